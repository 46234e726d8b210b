package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unsafepay/unsafepay/internal/build"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(build.Version())
		},
	}
}
