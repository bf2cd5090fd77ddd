package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key identifies generated content by the request parameters that produced it.
type Key struct {
	// Operation is the logical operation (e.g., "breakdown", "explain")
	Operation string

	// Params are the request parameters (e.g., {"topic": "Quantum Computing"})
	Params map[string]string
}

// Digest returns the content-addressable hash of the normalized key.
// Equivalent requests produce the same digest regardless of case, Unicode
// form, surrounding whitespace or parameter order.
func (k Key) Digest() string {
	params := NormalizeParams(k.Params)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(NormalizeValue(k.Operation)))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(params[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String returns the storage key used by both cache tiers.
// Format: lf:cache:<sha256 hex>
func (k Key) String() string {
	return "lf:cache:" + k.Digest()
}

// NormalizeParams returns a copy of params with names and values normalized.
// Empty values are dropped so that an omitted parameter and an empty one
// collapse to the same key.
func NormalizeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for name, value := range params {
		v := NormalizeValue(value)
		if v == "" {
			continue
		}
		out[NormalizeValue(name)] = v
	}
	return out
}

// NormalizeValue applies NFKC, case folding and whitespace collapsing.
func NormalizeValue(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
