// Package commands dispatches operator commands to the node gateway and
// renders the results.
//
// Command names are matched case-insensitively against a fixed
// allow-list; anything else is ignored without a response, so the bot
// never reacts to arbitrary chat noise. Handlers return a tagged Output
// plus an error; converting errors into chat text happens once, at the
// transport layer.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unsafepay/unsafepay/internal/alias"
	"github.com/unsafepay/unsafepay/internal/fiat"
	"github.com/unsafepay/unsafepay/internal/gateway"
)

// Rendering markers, shared with the help legend.
const (
	markerLocal    = "⭕️"     // heavy circle
	markerRemote   = "❌"           // cross mark
	markerPrivate  = "\U0001f512"       // lock
	markerActive   = "⚡️"     // lightning
	markerInactive = "\U0001f64a"       // speak-no-evil monkey
	markerPending  = "⏳"           // hourglass
	markerPaid     = "\U0001f44d"       // thumbs up
	markerNotPaid  = "\U0001f44e"       // thumbs down
)

// Block explorer link templates.
const (
	txLink      = "https://www.smartbit.com.au/tx/%s"
	chLink      = "https://1ml.com/channel/%d"
	chLinkAlt   = "https://lightblock.me/lightning-channel/%d"
	nodeLink    = "https://1ml.com/node/%s"
	nodeLinkAlt = "https://lightblock.me/lightning-node/%s"
)

// invoiceExpiry is the fixed lifetime of invoices created by add.
const invoiceExpiry = 12 * time.Hour

// Output is what a handler produces: Text, Blocks or QR.
type Output interface{ output() }

// Text is a single plain-text reply.
type Text string

// Blocks is an ordered sequence of separate text replies.
type Blocks []string

// QR is a payload to render as a QR image (captioned with the payload
// itself), optionally followed by one text reply.
type QR struct {
	Payload  string
	FollowUp string
}

func (Text) output()   {}
func (Blocks) output() {}
func (QR) output()     {}

// FiatService is the fiat conversion surface the handlers need. It is
// satisfied by *fiat.Cache.
type FiatService interface {
	ToFiat(sats int64, maxAge time.Duration) (float64, error)
	ToSatoshis(fiatAmount float64) (int64, error)
}

// Processor executes commands against the node gateway.
type Processor struct {
	gw      gateway.Client
	fiat    FiatService
	aliases *alias.Resolver
	version string
	maxAge  time.Duration

	// Explorer link toggles. Flipped by the 1ml/lightblock commands;
	// message handling is single-worker, so plain fields suffice.
	oneML      bool
	lightblock bool
}

// NewProcessor creates a processor. version is the build tag shown by
// info; empty omits the line.
func NewProcessor(gw gateway.Client, fiatSvc FiatService, aliases *alias.Resolver, version string) *Processor {
	return &Processor{
		gw:         gw,
		fiat:       fiatSvc,
		aliases:    aliases,
		version:    version,
		maxAge:     fiat.DefaultMaxAge,
		oneML:      true,
		lightblock: true,
	}
}

// SetFiatMaxAge overrides how stale a cached exchange rate may be when
// rendering fiat amounts.
func (p *Processor) SetFiatMaxAge(maxAge time.Duration) {
	if maxAge > 0 {
		p.maxAge = maxAge
	}
}

// command is one allow-listed entry: overt commands appear in the
// general help, covert ones don't.
type command struct {
	name  string
	short string
	usage string
	overt bool
	run   func(p *Processor, ctx context.Context, args []string) (Output, error)
}

// commandList preserves the help ordering; commandIndex serves lookups.
var (
	commandList  []command
	commandIndex = map[string]command{}
)

func register(c command) {
	commandList = append(commandList, c)
	commandIndex[c.name] = c
}

func init() {
	overt := []command{
		{name: "pay", short: "pay an invoice",
			usage: "Pay an invoice\ntg> pay <payment request> [amt]\nIf amt is a float it is considered a bitcoin amount, if amt is\nan integer it is considered a satoshi amount",
			run:   (*Processor).pay},
		{name: "balance", short: "walletbalance and channelbalance",
			usage: "Walletbalance and channelbalance\ntg> balance",
			run:   (*Processor).balance},
		{name: "1ml", short: "toggle https://1ml.com block explorer links",
			usage: "Toggle https://1ml.com block explorer links\ntg> 1ml",
			run:   (*Processor).toggleOneML},
		{name: "lightblock", short: "toggle https://lightblock.me block explorer links",
			usage: "Toggle https://lightblock.me block explorer links\ntg> lightblock",
			run:   (*Processor).toggleLightblock},
		{name: "payment", short: "check a payment status",
			usage: "Check a payment status\ntg> payment [payment_hash]\nIf payment_hash is not provided the last payment will be checked",
			run:   (*Processor).payment},
		{name: "info", short: "get information about the node",
			usage: "Get information about the node\ntg> info",
			run:   (*Processor).info},
		{name: "channels", short: "list channels",
			usage: "List channels\ntg> channels [filter]\nSpecify a filter to select channels by aliases and pubkeys",
			run:   (*Processor).channels},
		{name: "chs", short: "short version of channels",
			usage: "Short version of channels\ntg> chs",
			run:   (*Processor).chs},
		{name: "pending", short: "list pending channels",
			usage: "List pending channels\ntg> pending [filter]\nSpecify a filter to select pending channels by aliases and pubkeys",
			run:   (*Processor).pending},
		{name: "add", short: "add invoice",
			usage: "Add invoice\ntg> add [amt]\nIf amt is a float it is considered a bitcoin amount, if amt is\nan integer it is considered a satoshi amount",
			run:   (*Processor).add},
		{name: "uri", short: "get the node uri",
			usage: "Get the node uri\ntg> uri",
			run:   (*Processor).uri},
		{name: "address", short: "generate a new bech32 bitcoin address",
			usage: "Generate a new bech32 bitcoin address\ntg> address",
			run:   (*Processor).address},
		{name: "decode", short: "decode a payment request",
			usage: "Decode a payment request\ntg> decode <payment request>",
			run:   (*Processor).decode},
	}
	covert := []command{
		{name: "ping", run: (*Processor).ping},
		{name: "echo", run: (*Processor).echo},
		{name: "unicode", run: (*Processor).unicode},
		{name: "help",
			usage: "General help or specific help for commands\ntg> help [cmd]\nSpecify a command to get a specific help",
			run:   (*Processor).help},
	}
	for _, c := range overt {
		c.overt = true
		register(c)
	}
	for _, c := range covert {
		register(c)
	}
}

// Handle dispatches a command by name. The second return value is false
// for names outside the allow-list, which callers must ignore silently.
func (p *Processor) Handle(ctx context.Context, name string, args []string) (Output, bool, error) {
	cmd, ok := commandIndex[strings.ToLower(name)]
	if !ok {
		return nil, false, nil
	}
	out, err := cmd.run(p, ctx, args)
	return out, true, err
}

// help renders the general command list or a single command's usage.
func (p *Processor) help(_ context.Context, args []string) (Output, error) {
	if len(args) > 0 {
		name := strings.ToLower(args[0])
		if cmd, ok := commandIndex[name]; ok && cmd.usage != "" {
			return Text(cmd.usage), nil
		}
	}

	rows := []string{"Commands:"}
	for _, cmd := range commandList {
		if cmd.overt {
			rows = append(rows, fmt.Sprintf("%s: %s", cmd.name, cmd.short))
		}
	}
	rows = append(rows, "help: this help and help for commands")

	rows = append(rows, "", "Symbols:")
	legend := []struct{ sym, desc string }{
		{markerActive, "active"},
		{markerInactive, "not active"},
		{markerPrivate, "private"},
		{markerPending, "pending"},
	}
	for _, entry := range legend {
		rows = append(rows, fmt.Sprintf("%s: %s", entry.sym, entry.desc))
	}
	return Text(strings.Join(rows, "\n")), nil
}

// fiatSuffix renders sats through format (one %s verb) when fiat display
// is on and the value rounds above zero cents. The first rate failure
// turns fiat display off for the remainder of the response; a single
// unavailable rate must not abort a report.
func (p *Processor) fiatSuffix(sats int64, showFiat bool, format string) (string, bool) {
	if !showFiat || sats == 0 {
		return "", showFiat
	}
	value, err := p.fiat.ToFiat(sats, p.maxAge)
	if err != nil {
		return "", false
	}
	if value == 0 {
		return "", showFiat
	}
	return fmt.Sprintf(format, fmt.Sprintf("%.2f %s", value, fiat.Symbol)), showFiat
}
