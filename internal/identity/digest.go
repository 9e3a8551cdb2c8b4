package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
	"strings"
)

// digestWidth is the minimum width of an encoded digest. Encoded digests are
// the SHA-256 sum rendered as an unsigned base-16 integer and left-padded to
// this width, which is how existing user files store them.
const digestWidth = 32

// Digest returns the encoded SHA-256 digest of password.
func Digest(password string) string {
	sum := sha256.Sum256([]byte(password))
	hex := new(big.Int).SetBytes(sum[:]).Text(16)
	if len(hex) < digestWidth {
		hex = strings.Repeat("0", digestWidth-len(hex)) + hex
	}
	return hex
}

// verify reports whether password matches the stored digest.
func verify(digest, password string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(Digest(password))) == 1
}
