package main

import (
	"errors"
	"etix/src/common"
	"etix/src/config"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/models"
	"etix/src/types"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const providerSignatureHeader = "X-Provider-Signature"

func webhookRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/payment/webhook", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("[webhook] Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		signature := ctx.GetHeader(providerSignatureHeader)
		provider := ctx.DefaultQuery("provider", "generic")

		secret, err := lib.GetWebhookSecret(ctx.Request.Context())
		if err != nil {
			log.Printf("[webhook] Secret store error: %s\n", err.Error())
			lib.AuditWebhookFailure(ctx.Request.Context(), "webhook.verification_error",
				ctx.ClientIP(), ctx.Request.UserAgent(), signature, len(payload))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "validation error"})
			return
		}
		if secret == "" {
			if s, err := webhookSettingsSecret(provider); err == nil {
				secret = s
			}
		}

		cfg := config.Checkout()
		result := lib.VerifySignature(payload, signature, secret, cfg.AllowUnverifiedWebhooks)
		if !result.Valid {
			lib.AuditWebhookFailure(ctx.Request.Context(), "webhook.signature_rejected",
				ctx.ClientIP(), ctx.Request.UserAgent(), signature, len(payload))
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": result.Reason})
			return
		}
		if !result.Verified {
			log.Printf("[webhook] WARN accepted unverified webhook from %s (%s)\n", ctx.ClientIP(), result.Reason)
		}

		if !gjson.ValidBytes(payload) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		event := &types.WebhookEvent{
			Provider:      provider,
			TransactionID: gjson.GetBytes(payload, "transaction_id").String(),
			Status:        gjson.GetBytes(payload, "status").String(),
			Amount:        gjson.GetBytes(payload, "amount").Float(),
			Fee:           gjson.GetBytes(payload, "fee").Float(),
			Currency:      gjson.GetBytes(payload, "currency").String(),
			Reason:        gjson.GetBytes(payload, "reason").String(),
			Method:        gjson.GetBytes(payload, "payment_method").String(),
			RawPayload:    payload,
		}
		if event.TransactionID == "" || event.Status == "" {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "missing transaction_id or status"})
			return
		}

		var applied *common.ApplyResult
		switch event.Status {
		case types.PROVIDER_STATUS_SUCCESS:
			applied, err = common.ApplyProviderSuccess(event)
		case types.PROVIDER_STATUS_PROCESSING:
			applied, err = common.ApplyProviderProcessing(event)
		case types.PROVIDER_STATUS_FAILED:
			applied, err = common.ApplyProviderFailure(event)
		case types.PROVIDER_STATUS_REFUNDED:
			// Refunds are never honored from an unverified source, even
			// when the leniency flag lets payment events through.
			if !result.Verified {
				lib.AuditWebhookFailure(ctx.Request.Context(), "webhook.unverified_refund",
					ctx.ClientIP(), ctx.Request.UserAgent(), signature, len(payload))
				ctx.JSON(http.StatusUnauthorized, gin.H{"error": "refund requires a verified signature"})
				return
			}
			applied, err = common.ApplyProviderRefund(event)
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		if err != nil {
			if types.Classify(err) == types.KindValidation {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("[webhook] Error applying %s event %s: %s\n", event.Status, event.TransactionID, err.Error())
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "processing error"})
			return
		}

		recordWebhookReceipt(provider, applied.AlreadyApplied)

		if applied.Confirmed {
			go notifyRegistrationConfirmed(applied.Registration)
		}
		ctx.JSON(http.StatusOK, gin.H{
			"received": true,
			"applied":  applied.Applied,
			"verified": result.Verified,
		})
	})
	return apiv1
}

// recordWebhookReceipt updates the per-provider diagnostics. A redelivery
// of an already-applied event counts as a provider retry. Best-effort; a
// missing settings row is fine.
func recordWebhookReceipt(provider string, redelivery bool) {
	now := time.Now()
	updates := map[string]any{"last_received_at": now}
	if redelivery {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	d := db.GetDb()
	if err := d.
		Model(&models.WebhookSettings{}).
		Where("provider = ?", provider).
		Updates(updates).
		Error; err != nil {
		log.Printf("[webhook] Error recording receipt for %s: %s\n", provider, err.Error())
	}
}

func webhookSettingsSecret(provider string) (string, error) {
	d := db.GetDb()
	var settings models.WebhookSettings
	if err := d.
		Model(&models.WebhookSettings{}).
		Where("provider = ? AND enabled = true", provider).
		First(&settings).
		Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[webhook] Error loading settings for %s: %s\n", provider, err.Error())
		}
		return "", err
	}
	return settings.Secret, nil
}
