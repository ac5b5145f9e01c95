package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

const (
	// SecretPrefix marks OctoHub API token secrets.
	SecretPrefix = "octo_"
	secretBytes  = 32
	displayLen   = 12
)

// GenerateSecret returns a new random token secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}

// HashSecret computes the stored digest of a secret: hex HMAC-SHA256 keyed
// with the server pepper.
func HashSecret(pepper []byte, secret string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Prefix returns the displayable start of a secret.
func Prefix(secret string) string {
	if len(secret) <= displayLen {
		return secret
	}
	return secret[:displayLen]
}

// WellFormedSecret reports whether s looks like a secret from GenerateSecret.
func WellFormedSecret(s string) bool {
	rest, ok := strings.CutPrefix(s, SecretPrefix)
	if !ok || len(rest) != 2*secretBytes {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// digestEqual compares two hex digests in constant time.
func digestEqual(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}
