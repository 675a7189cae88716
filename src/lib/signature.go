package lib

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"etix/src/types"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const signaturePrefix = "sha256="

// VerifySignature authenticates a raw webhook payload against the shared
// secret. The provided header must be "sha256=" followed by the hex-encoded
// HMAC-SHA256 of the payload. Comparison is constant-time.
//
// An empty secret yields Valid=true, Verified=false only when allowUnverified
// is set; otherwise the webhook is rejected outright.
func VerifySignature(rawPayload []byte, providedSignatureHeader, secret string, allowUnverified bool) types.VerificationResult {
	if secret == "" {
		if allowUnverified {
			return types.VerificationResult{Valid: true, Verified: false, Reason: "no secret configured"}
		}
		return types.VerificationResult{Valid: false, Verified: false, Reason: "secret not configured"}
	}
	if providedSignatureHeader == "" {
		return types.VerificationResult{Valid: false, Verified: false, Reason: "missing signature"}
	}
	if !strings.HasPrefix(providedSignatureHeader, signaturePrefix) {
		return types.VerificationResult{Valid: false, Verified: false, Reason: "invalid format"}
	}
	provided := strings.TrimPrefix(providedSignatureHeader, signaturePrefix)
	if _, err := hex.DecodeString(provided); err != nil || provided == "" {
		return types.VerificationResult{Valid: false, Verified: false, Reason: "invalid format"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawPayload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return types.VerificationResult{Valid: false, Verified: false, Reason: "signature mismatch"}
	}
	return types.VerificationResult{Valid: true, Verified: true}
}

// SignPayload produces the signature header value for a payload under the
// given secret. Counterpart to VerifySignature; used by the settings
// self-test and by provider simulators.
func SignPayload(rawPayload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawPayload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

const auditStream = "audit:webhook"

// AuditWebhookFailure records a webhook authentication failure on the audit
// channel: a tagged log line plus a redis stream entry operators can tail.
// Only the signature prefix and payload length are recorded, never payload
// content.
func AuditWebhookFailure(ctx context.Context, eventType, ip, userAgent, signature string, payloadLen int) {
	masked := signature
	if len(masked) > 16 {
		masked = masked[:16] + "..."
	}
	log.Printf("[audit] %s ip=%s ua=%q sig=%s payload_len=%d\n", eventType, ip, userAgent, masked, payloadLen)

	rd := GetRedisClient()
	if rd == nil {
		return
	}
	if err := rd.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"event":       eventType,
			"ip":          ip,
			"user_agent":  userAgent,
			"signature":   masked,
			"payload_len": payloadLen,
		},
	}).Err(); err != nil {
		log.Printf("[audit] Error writing to stream %s: %s\n", auditStream, err.Error())
	}
}
