package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// opaqueSecretBytes is the entropy of refresh and CSRF tokens (256 bits).
const opaqueSecretBytes = 32

// IssueOpaqueSecret returns a cryptographically random hex-encoded secret.
// Refresh and CSRF tokens are generated by independent calls so one is never
// derivable from the other.
func IssueOpaqueSecret() (string, error) {
	b := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SecretsEqual compares two secrets in constant time.
func SecretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
