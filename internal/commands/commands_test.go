package commands

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/unsafepay/unsafepay/internal/alias"
	"github.com/unsafepay/unsafepay/internal/fiat"
	"github.com/unsafepay/unsafepay/internal/gateway"
)

const (
	testPayReq    = "lnbc4u1pwfvh4hpp5t5s5vkkhvyl9thnyxr2kcqes8wn7cpjkq93knqm2h3sryyjvzv5s"
	testHash      = "8692a0415ec87a56b6d79a485cf0aad99e118974e23bc4c627e038c91cf46668"
	maniPubkey    = "03db61876a9a50e5724048170aeb14f0096e503def38dc149d2a4ca71efd95a059"
	privatePubkey = "037163149da6fbddd6e8d7221b7aa80f4b077cd9d44aa00cbbf29ec197a7bc32d3"
	quietPubkey   = "020000000000000000000000000000000000000000000000000000000000000000"
	testRate      = 3184.50
)

type fakeGateway struct {
	info     gateway.NodeInfo
	channels []gateway.Channel
	invoices []gateway.Invoice

	created       *gateway.Invoice
	createdAmount int64
	createdExpiry time.Duration

	paidRequest string
	paidAmount  int64
	preimage    string
	payErr      error

	decoded   *gateway.DecodedPayReq
	decodeErr error

	checkedHash  string
	checkSettled bool
	checkErr     error

	wallet     int64
	channelBal int64
	address    string
}

func (f *fakeGateway) GetInfo(context.Context) (*gateway.NodeInfo, error) {
	info := f.info
	return &info, nil
}

func (f *fakeGateway) WalletBalance(context.Context) (int64, error) { return f.wallet, nil }

func (f *fakeGateway) ChannelBalance(context.Context) (int64, error) { return f.channelBal, nil }

func (f *fakeGateway) ListChannels(_ context.Context, activeOnly bool) ([]gateway.Channel, error) {
	if !activeOnly {
		return append([]gateway.Channel(nil), f.channels...), nil
	}
	var active []gateway.Channel
	for _, ch := range f.channels {
		if ch.Active {
			active = append(active, ch)
		}
	}
	return active, nil
}

func (f *fakeGateway) CreateInvoice(_ context.Context, amountSat int64, expiry time.Duration) (*gateway.Invoice, error) {
	f.createdAmount = amountSat
	f.createdExpiry = expiry
	if f.created != nil {
		inv := *f.created
		return &inv, nil
	}
	return &gateway.Invoice{PaymentRequest: testPayReq, PaymentHash: testHash}, nil
}

func (f *fakeGateway) PayInvoice(_ context.Context, paymentRequest string, amountSat int64) (string, error) {
	f.paidRequest = paymentRequest
	f.paidAmount = amountSat
	if f.payErr != nil {
		return "", f.payErr
	}
	return f.preimage, nil
}

func (f *fakeGateway) CheckInvoice(_ context.Context, paymentHash string) (bool, error) {
	f.checkedHash = paymentHash
	return f.checkSettled, f.checkErr
}

func (f *fakeGateway) ListInvoices(_ context.Context, limit int) ([]gateway.Invoice, error) {
	if limit < len(f.invoices) {
		return f.invoices[:limit], nil
	}
	return f.invoices, nil
}

func (f *fakeGateway) DecodeInvoice(context.Context, string) (*gateway.DecodedPayReq, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	if f.decoded != nil {
		decoded := *f.decoded
		return &decoded, nil
	}
	return &gateway.DecodedPayReq{Destination: maniPubkey}, nil
}

func (f *fakeGateway) NewAddress(context.Context) (string, error) { return f.address, nil }

func (f *fakeGateway) NodeAliases(context.Context) (map[string]string, error) { return nil, nil }

// fakeFiat converts at a fixed rate and can be told to start failing
// after a number of ToFiat calls.
type fakeFiat struct {
	rate      float64
	failAfter int
	fail      bool
	fiatCalls int
	satsCalls int
}

func (f *fakeFiat) ToFiat(sats int64, _ time.Duration) (float64, error) {
	f.fiatCalls++
	if f.fail || (f.failAfter > 0 && f.fiatCalls > f.failAfter) {
		return 0, fiat.ErrRateUnavailable
	}
	return math.Round(float64(sats)*f.rate/1e8*100) / 100, nil
}

func (f *fakeFiat) ToSatoshis(fiatAmount float64) (int64, error) {
	f.satsCalls++
	if f.fail {
		return 0, fiat.ErrRateUnavailable
	}
	return int64(math.Floor(fiatAmount / f.rate * 1e8)), nil
}

func testProcessor(gw *fakeGateway) (*Processor, *fakeFiat) {
	f := &fakeFiat{rate: testRate}
	resolver := alias.NewResolver(nil)
	resolver.SetAliases(map[string]string{maniPubkey: "mani_al_cielo"})
	return NewProcessor(gw, f, resolver, ""), f
}

func handleText(t *testing.T, p *Processor, name string, args ...string) string {
	t.Helper()
	out, handled, err := p.Handle(context.Background(), name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if !handled {
		t.Fatalf("%s not handled", name)
	}
	text, ok := out.(Text)
	if !ok {
		t.Fatalf("%s returned %T, want Text", name, out)
	}
	return string(text)
}

func TestUnknownCommandIgnored(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	out, handled, err := p.Handle(context.Background(), "drop", nil)
	if handled || out != nil || err != nil {
		t.Errorf("Handle(drop) = (%v, %v, %v), want silent ignore", out, handled, err)
	}
}

func TestPing(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	if got := handleText(t, p, "ping"); got != "pong" {
		t.Errorf("ping = %q", got)
	}
}

func TestEcho(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	if got := handleText(t, p, "ECHO", "hello", "world"); got != "hello world" {
		t.Errorf("echo = %q", got)
	}
}

func TestUnicode(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	got := handleText(t, p, "unicode", "a⚡b")
	if got != "a"+`⚡`+"b" {
		t.Errorf("unicode = %q", got)
	}
}

func TestHelpGeneral(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	got := handleText(t, p, "help")

	for _, want := range []string{
		"Commands:",
		"pay: pay an invoice",
		"add: add invoice",
		"help: this help and help for commands",
		"Symbols:",
		markerActive + ": active",
		markerPrivate + ": private",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("help output missing %q", want)
		}
	}
	if strings.Contains(got, "ping:") {
		t.Error("covert commands must not appear in the general help")
	}
}

func TestHelpPerCommand(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	if got := handleText(t, p, "help", "pay"); !strings.Contains(got, "tg> pay <payment request> [amt]") {
		t.Errorf("help pay = %q", got)
	}
	if got := handleText(t, p, "help", "help"); !strings.Contains(got, "tg> help [cmd]") {
		t.Errorf("help help = %q", got)
	}
}

func TestAddFiatAmount(t *testing.T) {
	gw := &fakeGateway{}
	p, f := testProcessor(gw)

	out, handled, err := p.Handle(context.Background(), "add", []string{"6.7€"})
	if err != nil || !handled {
		t.Fatalf("add: handled=%v err=%v", handled, err)
	}

	want := int64(math.Floor(6.7 / testRate * 1e8))
	if gw.createdAmount != want {
		t.Errorf("invoice amount = %d sats, want %d", gw.createdAmount, want)
	}
	if f.satsCalls != 1 {
		t.Errorf("rate consulted %d times, want 1", f.satsCalls)
	}
	if gw.createdExpiry != invoiceExpiry {
		t.Errorf("invoice expiry = %v, want %v", gw.createdExpiry, invoiceExpiry)
	}

	qr, ok := out.(QR)
	if !ok {
		t.Fatalf("add returned %T, want QR", out)
	}
	if qr.Payload != testPayReq {
		t.Errorf("QR payload = %q", qr.Payload)
	}
	if qr.FollowUp != "payment "+testHash {
		t.Errorf("QR follow-up = %q", qr.FollowUp)
	}
}

func TestPayStripsProtocolPrefix(t *testing.T) {
	gw := &fakeGateway{preimage: "00ff"}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "pay", "lightning:"+testPayReq)
	if got != "Done: 00ff" {
		t.Errorf("pay = %q", got)
	}
	if gw.paidRequest != testPayReq {
		t.Errorf("paid request = %q, want prefix stripped", gw.paidRequest)
	}
}

func TestPayInvalidAmount(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	_, handled, err := p.Handle(context.Background(), "pay", []string{testPayReq, "nonsense"})
	if !handled {
		t.Fatal("pay not handled")
	}
	if err == nil {
		t.Fatal("expected invalid amount error")
	}
}

func TestPaymentByHash(t *testing.T) {
	gw := &fakeGateway{checkSettled: true}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "payment", testHash)
	if got != markerPaid+"\n"+testHash {
		t.Errorf("payment = %q", got)
	}
	if gw.checkedHash != testHash {
		t.Errorf("checked hash = %q", gw.checkedHash)
	}
}

func TestPaymentNotFound(t *testing.T) {
	gw := &fakeGateway{checkErr: gateway.ErrNotFound}
	p, _ := testProcessor(gw)

	if got := handleText(t, p, "payment", testHash); got != "Invoice not found" {
		t.Errorf("payment = %q, want fixed not-found message", got)
	}
}

func TestPaymentLastInvoice(t *testing.T) {
	gw := &fakeGateway{invoices: []gateway.Invoice{{PaymentHash: testHash, Settled: false}}}
	p, _ := testProcessor(gw)

	if got := handleText(t, p, "payment"); got != markerNotPaid+"\n"+testHash {
		t.Errorf("payment = %q", got)
	}
}

func TestPaymentNoInvoices(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	if got := handleText(t, p, "payment"); got != "Invoice not found" {
		t.Errorf("payment = %q, want fixed not-found message", got)
	}
}

func TestBalanceWithFiat(t *testing.T) {
	gw := &fakeGateway{wallet: 1_000_000, channelBal: 2_000_000}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "balance")
	if !strings.Contains(got, "On-chain total balance: 0.01000000 [") {
		t.Errorf("balance missing wallet row with fiat: %q", got)
	}
	if !strings.Contains(got, "Channel balance: 0.02000000 [") {
		t.Errorf("balance missing channel row with fiat: %q", got)
	}
}

func TestBalanceFiatDegradesMidRender(t *testing.T) {
	gw := &fakeGateway{wallet: 1_000_000, channelBal: 2_000_000}
	p, f := testProcessor(gw)
	f.failAfter = 1

	got := handleText(t, p, "balance")
	rows := strings.Split(got, "\n")
	if len(rows) != 2 {
		t.Fatalf("balance rows = %d, want 2: %q", len(rows), got)
	}
	if !strings.Contains(rows[0], "[") {
		t.Errorf("first row lost its fiat suffix: %q", rows[0])
	}
	if strings.Contains(rows[1], "[") {
		t.Errorf("second row kept a fiat suffix after rate failure: %q", rows[1])
	}
}

func TestBalanceOmitsZeroRows(t *testing.T) {
	gw := &fakeGateway{wallet: 0, channelBal: 5_000}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "balance")
	if strings.Contains(got, "On-chain") {
		t.Errorf("zero wallet balance rendered: %q", got)
	}
}

func testChannels() []gateway.Channel {
	return []gateway.Channel{
		{
			RemotePubkey: privatePubkey,
			CapacitySat:  500_000, LocalSat: 200_000, RemoteSat: 300_000,
			Active: true, Private: true, ChannelID: 111, FundingTxID: strings.Repeat("a", 64),
		},
		{
			RemotePubkey: maniPubkey,
			CapacitySat:  1_000_000, LocalSat: 600_000, RemoteSat: 400_000,
			Active: true, Private: false, ChannelID: 222, FundingTxID: strings.Repeat("b", 64),
		},
		{
			RemotePubkey: quietPubkey,
			CapacitySat:  300_000, LocalSat: 0, RemoteSat: 300_000,
			Active: false, Private: false, ChannelID: 333, FundingTxID: strings.Repeat("c", 64),
		},
	}
}

func channelBlocks(t *testing.T, p *Processor, args ...string) Blocks {
	t.Helper()
	out, handled, err := p.Handle(context.Background(), "channels", args)
	if err != nil || !handled {
		t.Fatalf("channels: handled=%v err=%v", handled, err)
	}
	blocks, ok := out.(Blocks)
	if !ok {
		t.Fatalf("channels returned %T, want Blocks", out)
	}
	return blocks
}

func TestChannelsFilterByAlias(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{channels: testChannels()})

	blocks := channelBlocks(t, p, "mani_al_cielo")
	if len(blocks) != 1 {
		t.Fatalf("filtered blocks = %d, want 1", len(blocks))
	}
	if !strings.Contains(blocks[0], "mani_al_cielo") {
		t.Errorf("block missing alias: %q", blocks[0])
	}
	if strings.Contains(blocks[0], markerPrivate) {
		t.Errorf("public channel marked private: %q", blocks[0])
	}
}

func TestChannelsFilterByPubkey(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{channels: testChannels()})

	if blocks := channelBlocks(t, p, "03db61876a"); len(blocks) != 1 {
		t.Errorf("pubkey filter blocks = %d, want 1", len(blocks))
	}
	if blocks := channelBlocks(t, p, "no-one"); len(blocks) != 0 {
		t.Errorf("no-match filter blocks = %d, want 0", len(blocks))
	}
}

func TestPrivateChannelHasNoExplorerLink(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{channels: testChannels()})

	blocks := channelBlocks(t, p, "037163149da6")
	if len(blocks) != 1 {
		t.Fatalf("filtered blocks = %d, want 1", len(blocks))
	}
	if strings.Contains(blocks[0], "1ml.com") || strings.Contains(blocks[0], "lightblock.me") {
		t.Errorf("private channel rendered an explorer link: %q", blocks[0])
	}
	if !strings.Contains(blocks[0], markerPrivate) {
		t.Errorf("private channel missing lock marker: %q", blocks[0])
	}
}

func TestChannelsPrivateSortedLast(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{channels: testChannels()})

	blocks := channelBlocks(t, p)
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	if !strings.Contains(blocks[len(blocks)-1], markerPrivate) {
		t.Errorf("last block should be the private channel: %q", blocks[len(blocks)-1])
	}
}

func TestChs(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{channels: testChannels()})

	got := handleText(t, p, "chs")
	if !strings.Contains(got, markerPrivate) {
		t.Errorf("chs missing private marker: %q", got)
	}
	if !strings.Contains(got, "mani_al_cielo") {
		t.Errorf("chs missing alias: %q", got)
	}
	if !strings.Contains(got, markerInactive) {
		t.Errorf("chs missing inactive marker: %q", got)
	}
	// 600000 sats render trimmed, not zero-padded.
	if !strings.Contains(got, markerLocal+" 0.006") {
		t.Errorf("chs missing trimmed local balance: %q", got)
	}
}

func TestInfo(t *testing.T) {
	gw := &fakeGateway{
		info: gateway.NodeInfo{
			Alias:       "operator-node",
			Pubkey:      maniPubkey,
			URI:         maniPubkey + "@10.0.0.1:9735",
			BlockHeight: 560_000,
		},
		channels: testChannels(),
		wallet:   1_000_000,
	}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "info")
	for _, want := range []string{
		"operator-node",
		"https://1ml.com/node/" + maniPubkey,
		"https://lightblock.me/lightning-node/" + maniPubkey,
		"Active channels: 2",
		"Channels: 3",
		"Block height: 560000",
		"@10.0.0.1:9735",
		"On-chain total balance:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("info missing %q in %q", want, got)
		}
	}
}

func TestToggleOneML(t *testing.T) {
	gw := &fakeGateway{channels: testChannels()}
	p, _ := testProcessor(gw)

	if got := handleText(t, p, "1ml"); got != "1ml toggled" {
		t.Errorf("1ml = %q", got)
	}
	blocks := channelBlocks(t, p, "mani_al_cielo")
	if strings.Contains(blocks[0], "1ml.com") {
		t.Errorf("1ml links still rendered after toggle: %q", blocks[0])
	}
	if !strings.Contains(blocks[0], "lightblock.me") {
		t.Errorf("lightblock link should survive the 1ml toggle: %q", blocks[0])
	}
}

func TestDecodeRejectsNonPayReq(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})
	if got := handleText(t, p, "decode", "No"); got != "This is not a payment request" {
		t.Errorf("decode = %q", got)
	}
}

func TestDecodeRenders(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	gw := &fakeGateway{decoded: &gateway.DecodedPayReq{
		Destination: maniPubkey,
		AmountSat:   450,
		Description: "coffee",
		CreatedAt:   created,
		Expiry:      30 * time.Minute,
	}}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "decode", testPayReq)
	for _, want := range []string{
		"To mani_al_cielo",
		"Pubkey " + maniPubkey,
		"Amount 450 sat",
		"Description coffee",
		"Created on ",
		"Expired on ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("decode missing %q in %q", want, got)
		}
	}
}

func TestDecodeLargeAmountInBTC(t *testing.T) {
	gw := &fakeGateway{decoded: &gateway.DecodedPayReq{
		Destination: quietPubkey,
		AmountSat:   50_000,
		CreatedAt:   time.Now(),
		Expiry:      time.Hour,
	}}
	p, _ := testProcessor(gw)

	got := handleText(t, p, "decode", testPayReq)
	if !strings.Contains(got, "Amount 0.00050000 btc") {
		t.Errorf("decode large amount = %q", got)
	}
	if strings.Contains(got, "To ") {
		t.Errorf("unknown destination should render no To row: %q", got)
	}
	if !strings.Contains(got, "Expires ") {
		t.Errorf("unexpired invoice should render Expires: %q", got)
	}
}

func TestAddressAndURIAreQROutputs(t *testing.T) {
	gw := &fakeGateway{
		info:    gateway.NodeInfo{URI: maniPubkey + "@10.0.0.1:9735"},
		address: "bc1qexample",
	}
	p, _ := testProcessor(gw)

	out, _, err := p.Handle(context.Background(), "address", nil)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if qr, ok := out.(QR); !ok || qr.Payload != "bc1qexample" {
		t.Errorf("address = %#v, want QR with address payload", out)
	}

	out, _, err = p.Handle(context.Background(), "uri", nil)
	if err != nil {
		t.Fatalf("uri: %v", err)
	}
	if qr, ok := out.(QR); !ok || !strings.HasSuffix(qr.Payload, "@10.0.0.1:9735") {
		t.Errorf("uri = %#v, want QR with node URI", out)
	}
}

func TestIsPayReq(t *testing.T) {
	p, _ := testProcessor(&fakeGateway{})

	if !p.IsPayReq(context.Background(), testPayReq, true) {
		t.Error("weak check rejected a payment request")
	}
	if !p.IsPayReq(context.Background(), "lightning:"+testPayReq, true) {
		t.Error("weak check rejected a prefixed payment request")
	}
	if p.IsPayReq(context.Background(), "bc1qexample", true) {
		t.Error("weak check accepted an on-chain address")
	}

	gwDown := &fakeGateway{decodeErr: &gateway.Error{Message: "checksum failed"}}
	pDown, _ := testProcessor(gwDown)
	if pDown.IsPayReq(context.Background(), testPayReq, false) {
		t.Error("strict check must require a gateway decode")
	}
}

func TestGatewayErrorPropagates(t *testing.T) {
	gw := &fakeGateway{payErr: &gateway.Error{Message: "invoice expired"}}
	p, _ := testProcessor(gw)

	_, handled, err := p.Handle(context.Background(), "pay", []string{testPayReq})
	if !handled {
		t.Fatal("pay not handled")
	}
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Message != "invoice expired" {
		t.Errorf("err = %v, want gateway error with node message", err)
	}
}
