package cmd

import (
	"github.com/charmbracelet/huh"
)

// runWithHelp wraps a huh field in a form with help hints visible.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString prompts for a text input. If defaultVal is non-empty it
// is shown as placeholder; pressing Enter returns it.
func promptString(title, description, defaultVal string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Value(&value)

	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptPassword prompts for a secret input with hidden characters.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)

	if description != "" {
		inp = inp.Description(description)
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}
