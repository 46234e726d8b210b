package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unsafepay/unsafepay/internal/alias"
	"github.com/unsafepay/unsafepay/internal/build"
	"github.com/unsafepay/unsafepay/internal/channels/telegram"
	"github.com/unsafepay/unsafepay/internal/commands"
	"github.com/unsafepay/unsafepay/internal/config"
	"github.com/unsafepay/unsafepay/internal/fiat"
	"github.com/unsafepay/unsafepay/internal/gateway/lnd"
	"github.com/unsafepay/unsafepay/internal/pairing"
)

const pairedGreeting = "\U0001f308 Congratulations \U0001f308\nYour bot is now ready for use ⚡️"

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot()
		},
	}
}

func runBot() error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if cfg.Telegram.Token == "" {
		token, err := promptPassword("Telegram bot token", "Issued by @BotFather")
		if err != nil {
			return err
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("a telegram bot token is required")
		}
		cfg.Telegram.Token = token
		if err := cfg.Save(path); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := lnd.New(lnd.Options{
		Host:         cfg.LND.Host,
		Port:         cfg.LND.Port,
		TLSCertPath:  cfg.LND.TLSCertPath,
		MacaroonPath: cfg.LND.MacaroonPath,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	rates := fiat.New()
	if cfg.Fiat.QuoteURL != "" {
		rates = fiat.NewWithURL(cfg.Fiat.QuoteURL)
	}

	aliases := alias.NewResolver(node)
	aliases.Start(ctx)

	gate := pairing.NewGate(cfg.Telegram.AuthorizedChatID, func(chatID int64) error {
		cfg.Telegram.AuthorizedChatID = chatID
		return cfg.Save(path)
	})

	proc := commands.NewProcessor(node, rates, aliases, build.Version())
	proc.SetFiatMaxAge(time.Duration(cfg.Fiat.MaxAgeSeconds) * time.Second)

	channel, err := telegram.New(cfg.Telegram.Token, gate, proc)
	if err != nil {
		return err
	}

	if !gate.Paired() {
		fmt.Println("Not paired yet. Message the bot from your telegram account,")
		fmt.Println("then enter the pairing code it replies with.")
		go confirmLoop(ctx, gate, channel)
	}

	if err := channel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// confirmLoop reads pairing codes from the terminal until one matches
// the pending challenge, then greets the freshly paired chat.
func confirmLoop(ctx context.Context, gate *pairing.Gate, channel *telegram.Channel) {
	for !gate.Paired() {
		if ctx.Err() != nil {
			return
		}
		raw, err := promptString("Pairing code", "The number the bot sent to the chat", "")
		if err != nil {
			return
		}
		code, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			fmt.Println("That is not a number.")
			continue
		}
		chatID, ok := gate.Confirm(code)
		if !ok {
			fmt.Println("Code does not match, try again.")
			continue
		}
		channel.SendText(ctx, chatID, pairedGreeting)
		fmt.Println("Paired.")
		return
	}
}
