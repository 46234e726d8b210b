// Package pairing implements the single-operator authorization handshake.
//
// The first chat to message an unpaired bot is challenged with a numeric
// code; the operator confirms the code out-of-band at the local terminal.
// The match promotes that chat to the one authorized identity for the
// process lifetime:
//
//	Unpaired → ChallengeIssued → Paired
//
// Only the most recent challenger is remembered. There is no path back
// to Unpaired; re-pairing means restarting with an edited config. The
// confirming input channel is trusted-local, so wrong codes are simply
// ignored — no lockout, no attempt counter.
package pairing

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	"sync"
)

// Code bounds for the numeric challenge.
const (
	codeMin = 1
	codeMax = 99999
)

// State is the gate's position in the pairing lifecycle.
type State int

const (
	StateUnpaired State = iota
	StateChallengeIssued
	StatePaired
)

// Gate is the authorization state machine. All transitions are
// serialized behind one mutex.
type Gate struct {
	mu          sync.Mutex
	authorized  int64 // 0 = nobody paired yet
	pendingChat int64
	pendingCode int
	persist     func(chatID int64) error
}

// NewGate creates a gate. A non-zero authorized chat id (from persisted
// config) starts the gate in the Paired state. persist is called once,
// when the authorized id is first established; it may be nil.
func NewGate(authorized int64, persist func(chatID int64) error) *Gate {
	return &Gate{authorized: authorized, persist: persist}
}

// State reports the current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.authorized != 0:
		return StatePaired
	case g.pendingChat != 0:
		return StateChallengeIssued
	default:
		return StateUnpaired
	}
}

// Authorized reports whether chatID is the paired operator chat.
func (g *Gate) Authorized(chatID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorized != 0 && g.authorized == chatID
}

// Paired reports whether any chat has been authorized.
func (g *Gate) Paired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorized != 0
}

// Challenge issues a new challenge code for chatID, overwriting any
// pending challenge from another chat. The returned code must be shown
// to the challenger; pairing completes when the operator confirms it.
// Returns 0 when the gate is already paired.
func (g *Gate) Challenge(chatID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.authorized != 0 {
		return 0
	}

	g.pendingChat = chatID
	g.pendingCode = randomCode()
	slog.Info("pairing challenge issued", "chat_id", chatID)
	return g.pendingCode
}

// Confirm checks an operator-supplied code against the pending
// challenge. A match authorizes the pending chat, persists it, and
// returns its id. A mismatch (or no pending challenge) returns false
// and changes nothing.
func (g *Gate) Confirm(code int) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.authorized != 0 || g.pendingChat == 0 || code != g.pendingCode {
		return 0, false
	}

	g.authorized = g.pendingChat
	g.pendingChat = 0
	g.pendingCode = 0

	if g.persist != nil {
		if err := g.persist(g.authorized); err != nil {
			slog.Error("failed to persist authorized chat", "chat_id", g.authorized, "error", err)
		}
	}
	slog.Info("operator paired", "chat_id", g.authorized)
	return g.authorized, true
}

func randomCode() int {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return int(n.Int64()) + codeMin
}
