package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// GenerateRandomKey returns length random bytes, base64url encoded.
func GenerateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	// Note that err == nil only if we read len(b) bytes.
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// KeyMatches compares a presented key with the expected one in constant time.
// An empty expected key never matches.
func KeyMatches(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
