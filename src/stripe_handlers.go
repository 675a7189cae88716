package main

import (
	"encoding/json"
	"etix/src/common"
	"etix/src/lib"
	"etix/src/types"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeWebhookRoute is the Stripe-specific webhook endpoint. Stripe signs
// with its own scheme, so verification goes through stripe-go instead of
// the generic HMAC header; the events land on the same state machine.
func stripeWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		whsecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), whsecret)
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			lib.AuditWebhookFailure(ctx.Request.Context(), "stripe.signature_rejected",
				ctx.ClientIP(), ctx.Request.UserAgent(), ctx.GetHeader("Stripe-Signature"), len(payload))
			ctx.Status(http.StatusUnauthorized)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)
		switch event.Type {
		case "payment_intent.succeeded":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			reference := pi.Metadata["reference_id"]
			if reference == "" {
				reference = pi.ID
			}
			we := &types.WebhookEvent{
				Provider:      "stripe",
				TransactionID: reference,
				Status:        types.PROVIDER_STATUS_SUCCESS,
				Amount:        float64(pi.Amount) / 100,
				Currency:      string(pi.Currency),
				RawPayload:    event.Data.Raw,
			}
			applied, err := common.ApplyProviderSuccess(we)
			if err != nil {
				log.Printf("[Stripe] Error applying success for %s: %s\n", reference, err.Error())
				break
			}
			if applied.Confirmed {
				go notifyRegistrationConfirmed(applied.Registration)
			}
		case "payment_intent.processing":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			reference := pi.Metadata["reference_id"]
			if reference == "" {
				reference = pi.ID
			}
			if _, err := common.ApplyProviderProcessing(&types.WebhookEvent{
				Provider:      "stripe",
				TransactionID: reference,
				Status:        types.PROVIDER_STATUS_PROCESSING,
				RawPayload:    event.Data.Raw,
			}); err != nil {
				log.Printf("[Stripe] Error applying processing for %s: %s\n", reference, err.Error())
			}
		case "payment_intent.payment_failed":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			reference := pi.Metadata["reference_id"]
			if reference == "" {
				reference = pi.ID
			}
			reason := ""
			if pi.LastPaymentError != nil {
				reason = pi.LastPaymentError.Msg
			}
			if _, err := common.ApplyProviderFailure(&types.WebhookEvent{
				Provider:      "stripe",
				TransactionID: reference,
				Status:        types.PROVIDER_STATUS_FAILED,
				Reason:        reason,
				RawPayload:    event.Data.Raw,
			}); err != nil {
				log.Printf("[Stripe] Error applying failure for %s: %s\n", reference, err.Error())
			}
		case "charge.refunded":
			var ch stripe.Charge
			if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
				log.Printf("[Stripe] Error parsing Charge: %s\n", err.Error())
				break
			}
			reference := ch.Metadata["reference_id"]
			if reference == "" && ch.PaymentIntent != nil {
				reference = ch.PaymentIntent.ID
			}
			if _, err := common.ApplyProviderRefund(&types.WebhookEvent{
				Provider:      "stripe",
				TransactionID: reference,
				Status:        types.PROVIDER_STATUS_REFUNDED,
				RawPayload:    event.Data.Raw,
			}); err != nil {
				log.Printf("[Stripe] Error applying refund for %s: %s\n", reference, err.Error())
			}
		}
		ctx.Status(http.StatusOK)
	})
	return apiv1
}
