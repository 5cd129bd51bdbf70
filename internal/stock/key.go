package stock

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidKey is returned when a tally key is empty or malformed.
var ErrInvalidKey = errors.New("invalid stock key")

// Key identifies a tally line: treatment, size and length joined by "-".
//
// Parts may themselves contain "-" (e.g. "h3-treated"), so a Key is treated
// as opaque once built. Use NewKey to construct one from its parts.
type Key string

// NewKey builds a Key from its three parts.
//
// Each part is trimmed, NFC normalised and lower-cased so that the same
// line typed on two stations maps to the same key.
func NewKey(treatment, size, length string) (Key, error) {
	parts := []struct {
		name  string
		value string
	}{
		{"treatment", treatment},
		{"size", size},
		{"length", length},
	}

	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		v := normalizePart(p.value)
		if v == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrInvalidKey, p.name)
		}
		if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
			return "", fmt.Errorf("%w: %s %q contains whitespace", ErrInvalidKey, p.name, v)
		}
		normalized = append(normalized, v)
	}

	return Key(strings.Join(normalized, "-")), nil
}

// MustKey is NewKey for literals in tests and fixtures. Panics on error.
func MustKey(treatment, size, length string) Key {
	k, err := NewKey(treatment, size, length)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKey validates a key received from the wire or the command line.
//
// The key must be non-empty, free of whitespace and already in NFC form.
// Case is preserved: keys written by other clients are compared verbatim.
func ParseKey(s string) (Key, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidKey, s)
	}
	if !norm.NFC.IsNormalString(s) {
		return "", fmt.Errorf("%w: %q is not NFC normalised", ErrInvalidKey, s)
	}
	return Key(s), nil
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

func normalizePart(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
