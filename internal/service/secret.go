package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"agentscan/internal/model"
)

const (
	apiKeyPrefix       = "sk_live_"
	pairingTokenPrefix = "pair_"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generateAPIKey returns sk_live_ followed by 64 hex characters.
func generateAPIKey() (string, error) {
	s, err := randomHex(32)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + s, nil
}

// HashAPIKey is the lookup hash stored for a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func keyPrefix(raw string) string {
	if len(raw) <= model.APIKeyPrefixLen {
		return raw
	}
	return raw[:model.APIKeyPrefixLen]
}

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
