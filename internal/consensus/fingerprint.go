package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint derives the deterministic cache key of a normalised request:
// SHA-256 over the canonical tuple (lower-cased stripped question, sorted
// model ids, sorted roles, method, temperature rounded to 2 decimals, chain
// flags). Any semantic change to the request flips the fingerprint; field
// order in the original JSON does not.
func Fingerprint(req *Request) string {
	models := append([]string(nil), req.ModelIDs...)
	sort.Strings(models)

	roles := append([]string(nil), req.Roles...)
	sort.Strings(roles)

	// Unit separator keeps adjacent fields from gluing into false equals.
	const sep = "\x1f"
	parts := []string{
		strings.ToLower(strings.TrimSpace(req.Question)),
		strings.Join(models, ","),
		strings.Join(roles, ","),
		req.Method,
		fmt.Sprintf("%.2f", req.Temperature),
		strconv.FormatBool(req.EnableChainOfThought),
		req.ReasoningMethod,
		strconv.Itoa(req.ChainDepth),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, sep)))
	return hex.EncodeToString(sum[:])
}
