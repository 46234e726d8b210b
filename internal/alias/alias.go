// Package alias maps peer node public keys to display names.
//
// Known aliases come from the node graph and are refreshed in the
// background. A key without a known alias gets a stable pseudo-random
// place name derived from its sha256 digest, so the operator can
// recognize a peer across sessions even without graph data. The marker
// in front of the place name tells the two cases apart: 🌆 when the
// graph supplied some aliases (this key just has none), 🏙 when no
// aliases are known at all.
package alias

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	// markerSomeKnown prefixes synthesized names while the known-alias
	// map is non-empty (CITY AT DUSK).
	markerSomeKnown = "\U0001f306"
	// markerNoneKnown prefixes synthesized names while no aliases are
	// known system-wide (CITYSCAPE).
	markerNoneKnown = "\U0001f3d9"

	// refreshInterval is the minimum time between graph refreshes.
	refreshInterval = 24 * time.Hour
)

//go:embed cities.txt
var citiesRaw string

// GraphSource supplies the known pubkey→alias map, typically from the
// node's network graph.
type GraphSource interface {
	NodeAliases(ctx context.Context) (map[string]string, error)
}

// Resolver resolves peer pubkeys to display names.
type Resolver struct {
	source GraphSource
	cities []string

	mu      sync.Mutex
	aliases map[string]string
	updated time.Time
}

// NewResolver creates a resolver backed by the given graph source.
// The source may be nil; resolution then always synthesizes names.
func NewResolver(source GraphSource) *Resolver {
	return &Resolver{
		source: source,
		cities: loadCities(),
	}
}

func loadCities() []string {
	var cities []string
	for _, line := range strings.Split(citiesRaw, "\n") {
		if city := strings.TrimSpace(line); city != "" {
			cities = append(cities, city)
		}
	}
	return cities
}

// Resolve returns the known alias for pubkey, or a synthesized place
// name. Resolution never blocks on a graph refresh.
func (r *Resolver) Resolve(pubkey string) string {
	if alias, ok := r.Known(pubkey); ok {
		return alias
	}
	return r.placeName(pubkey)
}

// ResolveDefault is Resolve with a caller-supplied fallback, used when
// the raw pubkey (or a truncation of it) is wanted instead of a
// synthesized name.
func (r *Resolver) ResolveDefault(pubkey, fallback string) string {
	if alias, ok := r.Known(pubkey); ok {
		return alias
	}
	if fallback != "" {
		return fallback
	}
	return r.placeName(pubkey)
}

// Known reports the graph-supplied alias for pubkey, if any. Empty
// aliases in the graph count as absent.
func (r *Resolver) Known(pubkey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alias := r.aliases[pubkey]
	return alias, alias != ""
}

// placeName derives a deterministic label from the key: sha256 of the
// raw key bytes, read as a big-endian unsigned integer, reduced modulo
// the place-name list.
func (r *Resolver) placeName(pubkey string) string {
	raw, err := hex.DecodeString(pubkey)
	if err != nil {
		raw = []byte(pubkey)
	}
	digest := sha256.Sum256(raw)
	idx := new(big.Int).Mod(
		new(big.Int).SetBytes(digest[:]),
		big.NewInt(int64(len(r.cities))),
	).Int64()

	marker := markerNoneKnown
	r.mu.Lock()
	if len(r.aliases) > 0 {
		marker = markerSomeKnown
	}
	r.mu.Unlock()

	return marker + " " + r.cities[idx]
}

// Refresh reloads the known-alias map from the graph source. Calls
// within the refresh interval are no-ops. Errors are logged and
// swallowed; the previous map stays in place.
func (r *Resolver) Refresh(ctx context.Context) {
	if r.source == nil {
		return
	}

	r.mu.Lock()
	if time.Since(r.updated) < refreshInterval {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	aliases, err := r.source.NodeAliases(ctx)
	if err != nil {
		slog.Warn("alias refresh failed", "error", err)
		return
	}

	r.mu.Lock()
	r.aliases = aliases
	r.updated = time.Now()
	r.mu.Unlock()
	slog.Info("alias map refreshed", "count", len(aliases))
}

// Start launches the periodic background refresh. It returns after
// scheduling; command handling never waits on a refresh.
func (r *Resolver) Start(ctx context.Context) {
	go func() {
		r.Refresh(ctx)
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SetAliases replaces the known-alias map directly. Used by tests and
// by callers that already hold graph data.
func (r *Resolver) SetAliases(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases = aliases
	r.updated = time.Now()
}
