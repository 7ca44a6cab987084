package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureVerifier validates the provider's timestamped HMAC webhook
// signatures. The header format is "ts=<unix-seconds>,v1=<hex-hmac>" and the
// signed manifest is "id:<resourceId>;request-id:<requestId>;ts:<ts>;".
type SignatureVerifier struct {
	secret string
}

// NewSignatureVerifier creates a verifier. An empty secret puts the verifier
// in explicit permissive mode for environments without a configured secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: secret}
}

// Verify checks the signature header against the shared secret.
func (v *SignatureVerifier) Verify(signatureHeader, requestID, resourceID string) bool {
	if v.secret == "" {
		return true
	}

	if signatureHeader == "" || requestID == "" || resourceID == "" {
		return false
	}

	ts, sig, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", resourceID, requestID, ts)

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(expected))
}

// parseSignatureHeader extracts the ts and v1 parts. Both must be present.
func parseSignatureHeader(header string) (ts, v1 string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1, ts != "" && v1 != ""
}
