// Package webhook implements the vendor's push payload authentication
// scheme: hex HMAC-SHA256 digests keyed by the application management token.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks push payload signatures and answers VERIFY challenges.
type Verifier struct {
	token []byte
}

// NewVerifier builds a verifier for the given application management token.
func NewVerifier(managementToken string) *Verifier {
	return &Verifier{token: []byte(managementToken)}
}

// Sign returns the hex HMAC-SHA256 digest of data.
func (v *Verifier) Sign(data string) string {
	mac := hmac.New(sha256.New, v.token)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the payload. An empty management
// token rejects everything.
func (v *Verifier) Verify(payload []byte, signature string) bool {
	if len(v.token) == 0 || signature == "" {
		return false
	}
	expected := v.Sign(string(payload))
	return hmac.Equal([]byte(expected), []byte(signature))
}
