package monitor

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNoStrike is returned when a subtitle does not lead with a dollar strike.
var ErrNoStrike = errors.New("monitor: no dollar strike in subtitle")

// ParseStrike reads the leading "$" amount of a market subtitle, e.g. "$95,250 or above".
// The token ends at the first whitespace; commas are thousands separators.
func ParseStrike(subtitle string) (decimal.Decimal, error) {
	s := strings.TrimSpace(subtitle)
	if !strings.HasPrefix(s, "$") {
		return decimal.Zero, ErrNoStrike
	}
	s = s[1:]
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[:i]
	}
	if !validAmount(s) {
		return decimal.Zero, ErrNoStrike
	}

	v, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, ErrNoStrike
	}
	return v, nil
}

// validAmount accepts digits with optional comma grouping and an optional fraction.
func validAmount(s string) bool {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		return false
	}
	if hasFrac && (frac == "" || !allDigits(frac)) {
		return false
	}

	groups := strings.Split(whole, ",")
	if !allDigits(groups[0]) || len(groups[0]) == 0 {
		return false
	}
	if len(groups) > 1 && len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
