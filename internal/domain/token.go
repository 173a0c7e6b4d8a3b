package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ShortCodeLen is the length of the human-typeable ticket code printed
// under the QR image. Presented tokens up to this length are prefixes.
const ShortCodeLen = 8

// NewToken draws a fresh redemption token from crypto/rand.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("domain.NewToken: %w", err)
	}
	return id.String(), nil
}

// ShortCode returns the printed prefix of a token.
func ShortCode(token string) string {
	if len(token) <= ShortCodeLen {
		return token
	}
	return token[:ShortCodeLen]
}

// MaskToken hides everything after the short code.
func MaskToken(token string) string {
	return ShortCode(token) + "..."
}
