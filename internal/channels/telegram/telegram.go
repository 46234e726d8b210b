// Package telegram runs the operator-facing chat transport: it long-polls
// the Bot API, gates every update through the pairing service and renders
// command output back as messages and QR photos.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/unsafepay/unsafepay/internal/commands"
	"github.com/unsafepay/unsafepay/internal/gateway"
	"github.com/unsafepay/unsafepay/internal/pairing"
	"github.com/unsafepay/unsafepay/internal/qr"
)

// Channel connects one Telegram bot to the command processor.
type Channel struct {
	bot  *telego.Bot
	gate *pairing.Gate
	proc *commands.Processor

	// limiter paces outgoing sends under the Bot API flood limits.
	limiter *rate.Limiter

	// challenged debounces pairing challenges per chat id.
	challenged *expirable.LRU[int64, struct{}]
}

// New creates the channel. The bot token is validated lazily, on the
// first API call in Run.
func New(token string, gate *pairing.Gate, proc *commands.Processor) (*Channel, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Channel{
		bot:        bot,
		gate:       gate,
		proc:       proc,
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		challenged: expirable.NewLRU[int64, struct{}](challengeCacheSize, nil, challengeDebounce),
	}, nil
}

// Run long-polls for updates until ctx is cancelled. Each message is
// handled synchronously: the bot serves a single operator and ordering
// beats throughput here.
func (c *Channel) Run(ctx context.Context) error {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram updates: %w", err)
	}
	slog.Info("telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			c.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage applies the pairing gate and dispatches one message.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	chatID := msg.Chat.ID
	log := slog.With("chat_id", chatID, "correlation_id", uuid.NewString())

	if !c.gate.Authorized(chatID) {
		if c.gate.Paired() {
			// Paired with someone else: silence, no acknowledgement.
			log.Debug("message from unauthorized chat dropped")
			return
		}
		c.sendChallenge(ctx, chatID, log)
		return
	}

	// Every accepted message is acknowledged before processing.
	c.sendText(ctx, chatID, ackMarker)

	if len(msg.Photo) > 0 {
		c.handlePhoto(ctx, msg, log)
		return
	}
	c.handleText(ctx, chatID, msg.Text, log)
}

// sendChallenge issues a pairing code to an unpaired chat, at most once
// per debounce window.
func (c *Channel) sendChallenge(ctx context.Context, chatID int64, log *slog.Logger) {
	if _, seen := c.challenged.Get(chatID); seen {
		log.Debug("pairing challenge debounced")
		return
	}
	code := c.gate.Challenge(chatID)
	if code == 0 {
		return
	}
	c.challenged.Add(chatID, struct{}{})
	log.Info("pairing challenge sent")
	c.sendText(ctx, chatID, fmt.Sprintf("Pairing code: %d", code))
}

// handleText tokenizes a text message and runs it through the command
// allow-list. Unknown commands and empty messages die silently.
func (c *Channel) handleText(ctx context.Context, chatID int64, text string, log *slog.Logger) {
	name, args, ok := parseCommand(text)
	if !ok {
		return
	}

	out, handled, err := c.proc.Handle(ctx, name, args)
	if !handled {
		log.Debug("unknown command ignored", "command", name)
		return
	}
	log.Info("command handled", "command", name, "args", len(args))
	if err != nil {
		c.sendError(ctx, chatID, err, log)
		return
	}
	c.render(ctx, chatID, out)
}

// parseCommand splits a message into a command name and arguments with
// shell quoting rules. A leading slash on the command is dropped, so
// both "pay ..." and "/pay ..." work. Returns ok=false for empty or
// unparseable input.
func parseCommand(text string) (name string, args []string, ok bool) {
	fields, err := shellwords.Parse(text)
	if err != nil || len(fields) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// handlePhoto downloads the largest rendition, scans it for a QR code
// and pays it when the content decodes to a payment request.
func (c *Channel) handlePhoto(ctx context.Context, msg *telego.Message, log *slog.Logger) {
	chatID := msg.Chat.ID
	largest := msg.Photo[len(msg.Photo)-1]

	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: largest.FileID})
	if err != nil {
		c.sendError(ctx, chatID, err, log)
		return
	}
	data, err := tu.DownloadFile(c.bot.FileDownloadURL(file.FilePath))
	if err != nil {
		c.sendError(ctx, chatID, err, log)
		return
	}

	payload, err := qr.Decode(data)
	if err != nil {
		if errors.Is(err, qr.ErrNoCode) {
			c.sendText(ctx, chatID, replyNotAQR)
			return
		}
		c.sendError(ctx, chatID, err, log)
		return
	}

	if !c.proc.IsPayReq(ctx, payload, false) {
		c.sendText(ctx, chatID, replyNotAPayReq)
		return
	}

	log.Info("paying scanned payment request")
	out, _, err := c.proc.Handle(ctx, "pay", []string{payload})
	if err != nil {
		c.sendError(ctx, chatID, err, log)
		return
	}
	c.render(ctx, chatID, out)
}

// render sends a command output to the chat.
func (c *Channel) render(ctx context.Context, chatID int64, out commands.Output) {
	switch v := out.(type) {
	case commands.Text:
		c.sendText(ctx, chatID, string(v))
	case commands.Blocks:
		for _, block := range v {
			if block != "" {
				c.sendText(ctx, chatID, block)
			}
		}
	case commands.QR:
		c.sendQR(ctx, chatID, v)
	}
}

// sendQR renders the payload as a QR photo captioned with the raw text,
// falling back to plain text when encoding fails.
func (c *Channel) sendQR(ctx context.Context, chatID int64, out commands.QR) {
	png, err := qr.Encode(out.Payload)
	if err != nil {
		slog.Warn("qr encode failed, sending text", "error", err)
		c.sendText(ctx, chatID, out.Payload)
	} else {
		caption := out.Payload
		if len(caption) > captionMaxLen {
			caption = caption[:captionMaxLen]
		}
		photo := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(png), "qr.png"))).
			WithCaption(caption)
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := c.bot.SendPhoto(ctx, photo); err != nil {
			slog.Warn("failed to send photo", "chat_id", chatID, "error", err)
			c.sendText(ctx, chatID, out.Payload)
		}
	}
	if out.FollowUp != "" {
		c.sendText(ctx, chatID, out.FollowUp)
	}
}

// sendError reports a command failure to the operator. Node-side
// failures carry the error marker; everything else goes out verbatim.
func (c *Channel) sendError(ctx context.Context, chatID int64, err error, log *slog.Logger) {
	log.Warn("command failed", "error", err)

	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		c.sendText(ctx, chatID, errorMarker+" "+gerr.Message)
		return
	}
	c.sendText(ctx, chatID, err.Error())
}

// SendText sends one plain text message to chatID, truncated to the
// Telegram limit. Exported for the pairing confirmation flow.
func (c *Channel) SendText(ctx context.Context, chatID int64, text string) error {
	return c.sendText(ctx, chatID, text)
}

func (c *Channel) sendText(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Warn("failed to send message", "chat_id", chatID, "error", err)
		return err
	}
	return nil
}
