package market

import (
	"fmt"
	"strings"
)

// Symbol is the canonical instrument identifier: uppercase letters only,
// no separators, ex. "EURUSD". Each broker session translates between
// the canonical form and its venue wire form.
type Symbol string

func (s Symbol) String() string {
	return string(s)
}

// forexCurrencies is used by the routing heuristic to decide whether a
// canonical symbol looks like a forex pair.
var forexCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {},
	"AUD": {}, "NZD": {}, "CAD": {}, "SEK": {}, "NOK": {},
	"SGD": {}, "HKD": {}, "MXN": {}, "ZAR": {}, "XAU": {}, "XAG": {},
}

// Canonicalize normalizes a raw instrument string to its canonical form:
// separators removed, uppercased. It is idempotent. An error is returned
// if the result contains anything but uppercase letters.
func Canonicalize(raw string) (Symbol, error) {
	cleaned := strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "", ".", "", " ", "").Replace(raw))
	if cleaned == "" {
		return "", fmt.Errorf("empty symbol %q", raw)
	}
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("symbol %q contains non-alphabetic character %q", raw, r)
		}
	}
	return Symbol(cleaned), nil
}

// IsForex reports whether the symbol looks like a 6-letter forex pair
// with at least one recognized currency leg.
func (s Symbol) IsForex() bool {
	if len(s) != 6 {
		return false
	}
	_, base := forexCurrencies[string(s[:3])]
	_, quote := forexCurrencies[string(s[3:])]
	return base || quote
}
