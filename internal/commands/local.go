package commands

import (
	"context"
	"strconv"
	"strings"
)

// The local commands answer without touching the gateway.

func (p *Processor) ping(_ context.Context, _ []string) (Output, error) {
	return Text("pong"), nil
}

func (p *Processor) echo(_ context.Context, args []string) (Output, error) {
	return Text(strings.Join(args, " ")), nil
}

// unicode replies with an ASCII-escaped rendering of the argument text,
// useful to inspect what a chat client actually sent.
func (p *Processor) unicode(_ context.Context, args []string) (Output, error) {
	quoted := strconv.QuoteToASCII(strings.Join(args, " "))
	return Text(quoted[1 : len(quoted)-1]), nil
}

func (p *Processor) toggleOneML(_ context.Context, _ []string) (Output, error) {
	p.oneML = !p.oneML
	return Text("1ml toggled"), nil
}

func (p *Processor) toggleLightblock(_ context.Context, _ []string) (Output, error) {
	p.lightblock = !p.lightblock
	return Text("lightblock toggled"), nil
}
