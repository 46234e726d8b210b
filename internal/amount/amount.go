// Package amount converts operator-supplied amount strings into satoshis.
//
// Three notations are accepted, checked in this order:
//  1. a fiat marker (€, E or e) anywhere in the string — the remaining
//     number is a euro amount, converted at the current exchange rate
//  2. a decimal point — the number is whole bitcoin
//  3. otherwise — an integer satoshi count
package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// FiatMarkers are the characters that mark an amount as fiat-denominated.
const FiatMarkers = "€Ee"

// ErrInvalid reports a malformed amount string.
var ErrInvalid = errors.New("invalid amount")

// FiatConverter converts a fiat value into satoshis at the current rate.
// Conversion fails when no fresh exchange rate is available.
type FiatConverter interface {
	ToSatoshis(fiatAmount float64) (int64, error)
}

// ParseSats converts an amount string into satoshis.
//
// Fiat conversion errors from the converter are returned unchanged; a
// stale or zero rate is never substituted. Malformed numbers return
// ErrInvalid.
func ParseSats(input string, fiat FiatConverter) (int64, error) {
	if marker, ok := fiatMarker(input); ok {
		value, err := strconv.ParseFloat(strings.Replace(input, string(marker), "", 1), 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
		}
		return fiat.ToSatoshis(value)
	}
	if strings.Contains(input, ".") {
		btc, err := strconv.ParseFloat(input, 64)
		if err != nil || btc < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
		}
		return int64(math.Round(btc * SatsPerBTC)), nil
	}
	sats, err := strconv.ParseInt(input, 10, 64)
	if err != nil || sats < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
	}
	return sats, nil
}

func fiatMarker(input string) (rune, bool) {
	for _, r := range input {
		if strings.ContainsRune(FiatMarkers, r) {
			return r, true
		}
	}
	return 0, false
}

// BTCString formats satoshis as a bitcoin amount with eight decimals.
func BTCString(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	return fmt.Sprintf("%s%d.%08d", sign, sats/SatsPerBTC, sats%SatsPerBTC)
}

// TrimmedBTCString is BTCString with trailing zeros (and a bare trailing
// point) removed, for compact listings.
func TrimmedBTCString(sats int64) string {
	return strings.TrimRight(strings.TrimRight(BTCString(sats), "0"), ".")
}
