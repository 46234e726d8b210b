package telegram

import "time"

const (
	// maxMessageLen is the safe limit for outgoing Telegram messages.
	// Telegram's hard limit is 4096, but we use 4000 for safety.
	maxMessageLen = 4000

	// captionMaxLen is the max length for media captions.
	captionMaxLen = 1024

	// challengeDebounce is the minimum interval between pairing
	// challenges sent to the same chat.
	challengeDebounce = 60 * time.Second

	// challengeCacheSize bounds the debounce cache. Before pairing any
	// chat can knock, so the cache must not grow with the knockers.
	challengeCacheSize = 128
)

// Reply markers and fixed replies.
const (
	ackMarker   = "\U0001f916" // robot face, sent on every accepted message
	errorMarker = "❌"

	replyNotAPayReq = "Richiesta di pagamento non valida"
	replyNotAQR     = "Non sembra un qrcode"
)
