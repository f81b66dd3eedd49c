package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// A magic-link token travels as "<id>.<secret>". Only the id and a bcrypt
// hash of the secret are stored, so a leaked auth database cannot mint
// working links.

const linkSecretBytes = 32

func newLinkToken() (id, secret, raw string, err error) {
	id = uuid.NewString()

	b := make([]byte, linkSecretBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate link secret: %w", err)
	}
	secret = hex.EncodeToString(b)

	return id, secret, id + "." + secret, nil
}

func splitLinkToken(raw string) (id, secret string, err error) {
	dot := strings.IndexByte(raw, '.')
	if dot < 0 {
		return "", "", ErrInvalidToken
	}

	id, secret = raw[:dot], raw[dot+1:]
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrInvalidToken
	}
	if len(secret) != linkSecretBytes*2 {
		return "", "", ErrInvalidToken
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", "", ErrInvalidToken
	}

	return id, secret, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
