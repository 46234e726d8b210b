// Package lnd binds the gateway boundary to an LND node over gRPC.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	macaroon "gopkg.in/macaroon.v2"

	"github.com/unsafepay/unsafepay/internal/gateway"
)

// Options configure the connection to the node.
type Options struct {
	Host         string
	Port         int
	TLSCertPath  string
	MacaroonPath string
}

// Client implements gateway.Client against lnrpc.Lightning.
type Client struct {
	conn *grpc.ClientConn
	ln   lnrpc.LightningClient
}

// New dials the node. Without a cert and macaroon the connection falls
// back to plaintext, which only makes sense against a local mock node.
func New(opts Options) (*Client, error) {
	dialOpts, err := credentialOptions(opts.TLSCertPath, opts.MacaroonPath)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", opts.Host, opts.Port), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial lnd: %w", err)
	}

	return &Client{conn: conn, ln: lnrpc.NewLightningClient(conn)}, nil
}

func credentialOptions(certPath, macaroonPath string) ([]grpc.DialOption, error) {
	if certPath == "" || macaroonPath == "" {
		slog.Warn("no tls cert or macaroon configured, using insecure connection")
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}

	tlsCreds, err := credentials.NewClientTLSFromFile(certPath, "")
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("tls cert not found, using insecure connection", "path", certPath)
			return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
		}
		return nil, fmt.Errorf("load tls cert: %w", err)
	}

	macBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("parse macaroon: %w", err)
	}
	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("macaroon credential: %w", err)
	}

	return []grpc.DialOption{
		grpc.WithTransportCredentials(tlsCreds),
		grpc.WithPerRPCCredentials(macCreds),
	}, nil
}

// Close tears down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// wrap converts a gRPC failure into a gateway error carrying the
// node-reported message.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &gateway.Error{Message: status.Convert(err).Message(), Err: err}
}

func (c *Client) GetInfo(ctx context.Context) (*gateway.NodeInfo, error) {
	resp, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, wrap(err)
	}
	info := &gateway.NodeInfo{
		Alias:       resp.Alias,
		Pubkey:      resp.IdentityPubkey,
		BlockHeight: resp.BlockHeight,
	}
	if len(resp.Uris) > 0 {
		info.URI = resp.Uris[0]
	}
	return info, nil
}

func (c *Client) WalletBalance(ctx context.Context) (int64, error) {
	resp, err := c.ln.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
	if err != nil {
		return 0, wrap(err)
	}
	return resp.TotalBalance, nil
}

func (c *Client) ChannelBalance(ctx context.Context) (int64, error) {
	resp, err := c.ln.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		return 0, wrap(err)
	}
	if resp.LocalBalance != nil {
		return int64(resp.LocalBalance.Sat), nil
	}
	return resp.Balance, nil
}

func (c *Client) ListChannels(ctx context.Context, activeOnly bool) ([]gateway.Channel, error) {
	resp, err := c.ln.ListChannels(ctx, &lnrpc.ListChannelsRequest{ActiveOnly: activeOnly})
	if err != nil {
		return nil, wrap(err)
	}
	channels := make([]gateway.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		channels = append(channels, gateway.Channel{
			RemotePubkey: ch.RemotePubkey,
			CapacitySat:  ch.Capacity,
			LocalSat:     ch.LocalBalance,
			RemoteSat:    ch.RemoteBalance,
			Active:       ch.Active,
			Private:      ch.Private,
			ChannelID:    ch.ChanId,
			FundingTxID:  fundingTxID(ch.ChannelPoint),
		})
	}
	return channels, nil
}

// fundingTxID extracts the transaction id from a "txid:index" channel
// point.
func fundingTxID(channelPoint string) string {
	txid, _, _ := strings.Cut(channelPoint, ":")
	return txid
}

func (c *Client) CreateInvoice(ctx context.Context, amountSat int64, expiry time.Duration) (*gateway.Invoice, error) {
	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  amountSat,
		Expiry: int64(expiry.Seconds()),
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &gateway.Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hex.EncodeToString(resp.RHash),
		AmountSat:      amountSat,
		CreatedAt:      time.Now(),
		Expiry:         expiry,
	}, nil
}

func (c *Client) PayInvoice(ctx context.Context, paymentRequest string, amountSat int64) (string, error) {
	resp, err := c.ln.SendPaymentSync(ctx, &lnrpc.SendRequest{
		PaymentRequest: paymentRequest,
		Amt:            amountSat,
	})
	if err != nil {
		return "", wrap(err)
	}
	if resp.PaymentError != "" {
		return "", &gateway.Error{Message: resp.PaymentError}
	}
	return hex.EncodeToString(resp.PaymentPreimage), nil
}

func (c *Client) CheckInvoice(ctx context.Context, paymentHash string) (bool, error) {
	rhash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return false, &gateway.Error{Message: "malformed payment hash", Err: err}
	}
	resp, err := c.ln.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rhash})
	if err != nil {
		if isNotFound(err) {
			return false, gateway.ErrNotFound
		}
		return false, wrap(err)
	}
	return resp.State == lnrpc.Invoice_SETTLED, nil
}

func isNotFound(err error) bool {
	s := status.Convert(err)
	return s.Code() == codes.NotFound ||
		strings.Contains(s.Message(), "unable to locate invoice")
}

func (c *Client) ListInvoices(ctx context.Context, limit int) ([]gateway.Invoice, error) {
	resp, err := c.ln.ListInvoices(ctx, &lnrpc.ListInvoiceRequest{
		NumMaxInvoices: uint64(limit),
		Reversed:       true,
	})
	if err != nil {
		return nil, wrap(err)
	}
	invoices := make([]gateway.Invoice, 0, len(resp.Invoices))
	for _, inv := range resp.Invoices {
		invoices = append(invoices, gateway.Invoice{
			PaymentRequest: inv.PaymentRequest,
			PaymentHash:    hex.EncodeToString(inv.RHash),
			AmountSat:      inv.Value,
			Description:    inv.Memo,
			CreatedAt:      time.Unix(inv.CreationDate, 0),
			Expiry:         time.Duration(inv.Expiry) * time.Second,
			Settled:        inv.State == lnrpc.Invoice_SETTLED,
		})
	}
	return invoices, nil
}

func (c *Client) DecodeInvoice(ctx context.Context, paymentRequest string) (*gateway.DecodedPayReq, error) {
	resp, err := c.ln.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: paymentRequest})
	if err != nil {
		return nil, wrap(err)
	}
	return &gateway.DecodedPayReq{
		Destination: resp.Destination,
		AmountSat:   resp.NumSatoshis,
		Description: resp.Description,
		CreatedAt:   time.Unix(resp.Timestamp, 0),
		Expiry:      time.Duration(resp.Expiry) * time.Second,
	}, nil
}

func (c *Client) NewAddress(ctx context.Context) (string, error) {
	resp, err := c.ln.NewAddress(ctx, &lnrpc.NewAddressRequest{
		Type: lnrpc.AddressType_WITNESS_PUBKEY_HASH,
	})
	if err != nil {
		return "", wrap(err)
	}
	return resp.Address, nil
}

func (c *Client) NodeAliases(ctx context.Context) (map[string]string, error) {
	resp, err := c.ln.DescribeGraph(ctx, &lnrpc.ChannelGraphRequest{})
	if err != nil {
		return nil, wrap(err)
	}
	aliases := make(map[string]string, len(resp.Nodes))
	for _, node := range resp.Nodes {
		if node.Alias != "" {
			aliases[node.PubKey] = node.Alias
		}
	}
	return aliases, nil
}

var _ gateway.Client = (*Client)(nil)
