// Package commitment implements the commit-reveal primitives used by coin-flip games.
//
// A player publishes Commit(secret) before the counterparty chooses anything and
// discloses the secret later. Verify checks that the disclosed secret is the one
// that was committed to.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
)

const (
	// DigestSize is the length of a published commitment.
	DigestSize = sha256.Size
	// SecretSize is the length of a revealed secret (a 128-bit value).
	SecretSize = 16
)

// Commit returns the commitment for secret.
func Commit(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// Verify reports whether secret hashes to commitment.
// Malformed input never matches.
func Verify(commitment, secret []byte) bool {
	if len(commitment) != DigestSize {
		return false
	}
	sum := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(sum[:], commitment) == 1
}

// NewSecret draws a fresh random secret.
func NewSecret() ([]byte, error) {
	s := make([]byte, SecretSize)
	if _, err := rand.Read(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParityEven interprets both secrets as big-endian unsigned integers and reports
// whether their sum is even.
func ParityEven(s1, s2 []byte) bool {
	sum := new(big.Int).SetBytes(s1)
	sum.Add(sum, new(big.Int).SetBytes(s2))
	return sum.Bit(0) == 0
}
