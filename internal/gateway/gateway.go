// Package gateway defines the boundary to the Lightning node.
//
// Everything returned here is transient: channels and invoices are
// re-fetched on every query and never cached by this layer. A single
// failed call yields a single reported error; no retries.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a lookup miss for a specific invoice or payment.
var ErrNotFound = errors.New("invoice not found")

// Error is a failure reported by the node. Its message is shown to the
// operator verbatim.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// NodeInfo describes the connected node.
type NodeInfo struct {
	Alias       string
	Pubkey      string
	URI         string
	BlockHeight uint32
}

// Channel is a funded payment relationship with a peer.
type Channel struct {
	RemotePubkey string
	CapacitySat  int64
	LocalSat     int64
	RemoteSat    int64
	Active       bool
	Private      bool
	ChannelID    uint64
	FundingTxID  string
}

// Invoice is a payment request issued by the node.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	AmountSat      int64
	Description    string
	CreatedAt      time.Time
	Expiry         time.Duration
	Settled        bool
}

// DecodedPayReq is the structural decode of a payment request.
type DecodedPayReq struct {
	Destination string
	AmountSat   int64
	Description string
	CreatedAt   time.Time
	Expiry      time.Duration
}

// Expired reports whether the invoice's expiry window has passed.
func (d *DecodedPayReq) Expired(now time.Time) bool {
	return now.After(d.CreatedAt.Add(d.Expiry))
}

// Client is the node operation set consumed by the command layer. Calls
// are synchronous and blocking; cancellation and timeouts are whatever
// the underlying binding enforces.
type Client interface {
	GetInfo(ctx context.Context) (*NodeInfo, error)
	WalletBalance(ctx context.Context) (int64, error)
	ChannelBalance(ctx context.Context) (int64, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]Channel, error)
	CreateInvoice(ctx context.Context, amountSat int64, expiry time.Duration) (*Invoice, error)
	PayInvoice(ctx context.Context, paymentRequest string, amountSat int64) (preimage string, err error)
	CheckInvoice(ctx context.Context, paymentHash string) (settled bool, err error)
	ListInvoices(ctx context.Context, limit int) ([]Invoice, error)
	DecodeInvoice(ctx context.Context, paymentRequest string) (*DecodedPayReq, error)
	NewAddress(ctx context.Context) (string, error)
	NodeAliases(ctx context.Context) (map[string]string, error)
}
