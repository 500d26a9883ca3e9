// Package publicid generates and validates the opaque public identifiers
// exposed for namespaces, threads, messages, categories and the rest.
package publicid

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Length is the fixed length of every public identifier.
const Length = 24

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// modulus is 36^Length; identifiers are a random UUID reduced into that range.
var modulus = new(big.Int).Exp(big.NewInt(36), big.NewInt(Length), nil)

// New returns a fresh random public identifier.
func New() string {
	return FromUUID(uuid.New())
}

// FromUUID derives the public identifier for u. The same UUID always maps
// to the same identifier.
func FromUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	n.Mod(n, modulus)

	s := n.Text(36)
	if len(s) < Length {
		s = strings.Repeat("0", Length-len(s)) + s
	}
	return s
}

// Valid reports whether s is syntactically a public identifier: exactly
// Length ASCII letters or digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
