package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Gateway-Signature"

// EventIDHeader carries the delivery id when the envelope omits one.
const EventIDHeader = "X-Gateway-Event-Id"

// Sign computes the webhook signature for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature against payload in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// VerifyWebhookSignature checks a delivery against the configured webhook secret.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c == nil {
		return false
	}
	return VerifySignature(c.webhookSecret, payload, signature)
}
