// Package auth validates the bearer tokens that gate every non-public
// endpoint.
package auth

import (
	"crypto/subtle"
	"strings"
)

// Result of a token check.
type Result int

const (
	// OK — token present and known.
	OK Result = iota
	// Malformed — header missing or not a bearer scheme.
	Malformed
	// Unknown — well-formed token not in the configured set.
	Unknown
)

// Gate holds the configured API keys.
type Gate struct {
	keys []string
}

// NewGate builds a Gate from the configured key list. Empty entries are
// dropped; config validation guarantees at least one key remains.
func NewGate(keys []string) *Gate {
	g := &Gate{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			g.keys = append(g.keys, k)
		}
	}
	return g
}

// Check parses an Authorization header value and verifies the token.
// Every configured key is compared in constant time regardless of early
// matches, so timing does not leak which key prefix was close.
func (g *Gate) Check(header string) (token string, res Result) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", Malformed
	}
	token = strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", Malformed
	}

	matched := 0
	for _, k := range g.keys {
		matched |= subtle.ConstantTimeCompare([]byte(k), []byte(token))
	}
	if matched == 1 {
		return token, OK
	}
	return token, Unknown
}
