package authkit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const sessionTokenByteLength = 32

var sessionTokenRandomSource io.Reader = rand.Reader

func generateSessionToken() (string, string, error) {
	token, err := randomURLToken(sessionTokenByteLength)
	if err != nil {
		return "", "", fmt.Errorf("session.random: %w", err)
	}
	return token, HashSessionToken(token), nil
}

// HashSessionToken derives the store key for a cookie token.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomURLToken(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := io.ReadFull(sessionTokenRandomSource, buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
