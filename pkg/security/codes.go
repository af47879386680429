package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// JoinCodeAlphabet avoids glyphs that are easy to misread aloud.
	JoinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	inviteCodeLength = 32
)

// RandomCode draws length characters uniformly from alphabet.
func RandomCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	if alphabet == "" {
		return "", fmt.Errorf("alphabet required")
	}
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewInviteCode returns a one-time invite code and the hash to persist.
// Only the hash is ever stored.
func NewInviteCode() (code, hash string, err error) {
	code, err = RandomCode(inviteCodeLength, inviteAlphabet)
	if err != nil {
		return "", "", err
	}
	return code, HashToken(code), nil
}

// HashToken returns the hex blake2b-256 digest of a trimmed code.
func HashToken(code string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}
