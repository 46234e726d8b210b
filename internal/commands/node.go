package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/unsafepay/unsafepay/internal/amount"
	"github.com/unsafepay/unsafepay/internal/gateway"
)

const protocolPrefix = "lightning:"

var (
	payReqPattern      = regexp.MustCompile(`^(lightning:)?ln(bc|tb)[0-9]+[munp]`)
	paymentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// StripProtocol removes a leading lightning: scheme, if present.
func StripProtocol(payReq string) string {
	if strings.HasPrefix(strings.ToLower(payReq), protocolPrefix) {
		return payReq[len(protocolPrefix):]
	}
	return payReq
}

// IsPayReq reports whether s looks like a payment request. The weak
// check is structural only; the strict one also asks the gateway for a
// full decode.
func (p *Processor) IsPayReq(ctx context.Context, s string, weak bool) bool {
	if !payReqPattern.MatchString(strings.ToLower(s)) {
		return false
	}
	if weak {
		return true
	}
	_, err := p.gw.DecodeInvoice(ctx, StripProtocol(s))
	return err == nil
}

func (p *Processor) info(ctx context.Context, _ []string) (Output, error) {
	info, err := p.gw.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := p.gw.ListChannels(ctx, false)
	if err != nil {
		return nil, err
	}
	active, err := p.gw.ListChannels(ctx, true)
	if err != nil {
		return nil, err
	}

	rows := []string{info.Alias}
	if p.oneML {
		rows = append(rows, fmt.Sprintf(nodeLink, info.Pubkey))
	}
	if p.lightblock {
		rows = append(rows, fmt.Sprintf(nodeLinkAlt, info.Pubkey))
	}
	if len(active) != len(channels) {
		rows = append(rows, fmt.Sprintf("Active channels: %d", len(active)))
	}
	rows = append(rows, fmt.Sprintf("Channels: %d", len(channels)))
	rows = append(rows, info.URI)
	rows = append(rows, fmt.Sprintf("Block height: %d", info.BlockHeight))

	balance, err := p.balanceReport(ctx)
	if err != nil {
		return nil, err
	}
	if balance != "" {
		rows = append(rows, balance)
	}
	if p.version != "" {
		rows = append(rows, fmt.Sprintf("Version: %s", p.version))
	}
	return Text(strings.Join(rows, "\n")), nil
}

// uri replies with the node's connection URI, rendered as a QR code.
func (p *Processor) uri(ctx context.Context, _ []string) (Output, error) {
	info, err := p.gw.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	return QR{Payload: info.URI}, nil
}

// address requests a new bech32 receiving address, rendered as a QR code.
func (p *Processor) address(ctx context.Context, _ []string) (Output, error) {
	addr, err := p.gw.NewAddress(ctx)
	if err != nil {
		return nil, err
	}
	return QR{Payload: addr}, nil
}

func (p *Processor) pay(ctx context.Context, args []string) (Output, error) {
	if len(args) == 0 {
		return Text(commandIndex["pay"].usage), nil
	}
	payReq := StripProtocol(args[0])

	var sats int64
	if len(args) > 1 {
		var err error
		sats, err = amount.ParseSats(args[1], p.fiat)
		if err != nil {
			return nil, err
		}
	}

	preimage, err := p.gw.PayInvoice(ctx, payReq, sats)
	if err != nil {
		return nil, err
	}
	return Text(fmt.Sprintf("Done: %s", preimage)), nil
}

func (p *Processor) add(ctx context.Context, args []string) (Output, error) {
	var sats int64
	if len(args) > 0 {
		var err error
		sats, err = amount.ParseSats(args[0], p.fiat)
		if err != nil {
			return nil, err
		}
	}

	invoice, err := p.gw.CreateInvoice(ctx, sats, invoiceExpiry)
	if err != nil {
		return nil, err
	}
	if p.IsPayReq(ctx, invoice.PaymentRequest, true) {
		return QR{
			Payload:  invoice.PaymentRequest,
			FollowUp: fmt.Sprintf("payment %s", invoice.PaymentHash),
		}, nil
	}
	return Blocks{invoice.PaymentRequest, invoice.PaymentHash}, nil
}

func (p *Processor) payment(ctx context.Context, args []string) (Output, error) {
	const notFound = "Invoice not found"

	var settled bool
	var paymentHash string
	if len(args) > 0 && paymentHashPattern.MatchString(args[0]) {
		paymentHash = args[0]
		var err error
		settled, err = p.gw.CheckInvoice(ctx, paymentHash)
		if err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return Text(notFound), nil
			}
			return nil, err
		}
	} else {
		invoices, err := p.gw.ListInvoices(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(invoices) == 0 {
			return Text(notFound), nil
		}
		settled = invoices[0].Settled
		paymentHash = invoices[0].PaymentHash
	}

	marker := markerNotPaid
	if settled {
		marker = markerPaid
	}
	return Text(marker + "\n" + paymentHash), nil
}

func (p *Processor) balance(ctx context.Context, _ []string) (Output, error) {
	report, err := p.balanceReport(ctx)
	if err != nil {
		return nil, err
	}
	return Text(report), nil
}

// balanceReport renders on-chain and channel balances in bitcoin
// notation with optional fiat suffixes. Zero balances are omitted.
func (p *Processor) balanceReport(ctx context.Context) (string, error) {
	wallet, err := p.gw.WalletBalance(ctx)
	if err != nil {
		return "", err
	}
	channel, err := p.gw.ChannelBalance(ctx)
	if err != nil {
		return "", err
	}

	var rows []string
	showFiat := true
	if wallet != 0 {
		row := fmt.Sprintf("On-chain total balance: %s", amount.BTCString(wallet))
		var suffix string
		suffix, showFiat = p.fiatSuffix(wallet, showFiat, " [%s]")
		rows = append(rows, row+suffix)
	}
	if channel != 0 {
		row := fmt.Sprintf("Channel balance: %s", amount.BTCString(channel))
		var suffix string
		suffix, showFiat = p.fiatSuffix(channel, showFiat, " [%s]")
		rows = append(rows, row+suffix)
	}
	return strings.Join(rows, "\n"), nil
}

func (p *Processor) decode(ctx context.Context, args []string) (Output, error) {
	if len(args) == 0 {
		return Text(commandIndex["decode"].usage), nil
	}
	payReq := args[0]
	if !p.IsPayReq(ctx, payReq, false) {
		return Text("This is not a payment request"), nil
	}

	decoded, err := p.gw.DecodeInvoice(ctx, StripProtocol(payReq))
	if err != nil {
		return nil, err
	}

	var rows []string
	if known, ok := p.aliases.Known(decoded.Destination); ok {
		rows = append(rows, fmt.Sprintf("To %s", known))
	}
	rows = append(rows, fmt.Sprintf("Pubkey %s", decoded.Destination))
	if decoded.AmountSat != 0 {
		if decoded.AmountSat > 10_000 {
			rows = append(rows, fmt.Sprintf("Amount %s btc", amount.BTCString(decoded.AmountSat)))
		} else {
			rows = append(rows, fmt.Sprintf("Amount %d sat", decoded.AmountSat))
		}
	}
	if decoded.Description != "" {
		rows = append(rows, fmt.Sprintf("Description %s", decoded.Description))
	}

	rows = append(rows, fmt.Sprintf("Created on %s", decoded.CreatedAt.Format(time.ANSIC)))
	expiration := decoded.CreatedAt.Add(decoded.Expiry)
	if decoded.Expired(time.Now()) {
		rows = append(rows, fmt.Sprintf("Expired on %s", expiration.Format(time.ANSIC)))
	} else {
		rows = append(rows, fmt.Sprintf("Expires %s", expiration.Format(time.ANSIC)))
	}
	return Text(strings.Join(rows, "\n")), nil
}
