package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.SignatureVerifier = HMACVerifier{}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body. An optional
// "sha256=" prefix on the header value is accepted.
type HMACVerifier struct{}

func (HMACVerifier) Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return false
	}
	sig := strings.TrimSpace(signatureHeader)
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")
	if sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(rawBody, secret))
}

// Sign returns the raw MAC bytes for body.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign hex-encoded, the form providers put in headers.
func SignHex(body []byte, secret string) string {
	return hex.EncodeToString(Sign(body, secret))
}
