package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	SignatureHeader = "X-Deepscan-Signature"
	EventHeader     = "X-Deepscan-Event"
)

// Sign returns "sha256=<hex HMAC-SHA256 of payload>".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, payload)))
}
