package lib

import (
	"context"
	"log"
	"os"

	"github.com/stripe/stripe-go/v82"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	apiKey := os.Getenv("STRIPE_SECRET_KEY")
	sc := stripe.NewClient(apiKey)
	stripeClient = sc

	return sc
}

func NewStripeClient(c *stripe.Client) {
	stripeClient = c
}

// StripeCreateRefund issues a refund for a payment intent. Used by the
// admin refund path; webhook-driven refunds only record what the provider
// already did.
func StripeCreateRefund(ctx context.Context, paymentIntentId, reason string) (*stripe.Refund, error) {
	sc := GetStripeClient()
	refund, err := sc.V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentIntentId),
		Metadata:      map[string]string{"reason": reason},
	})
	if err != nil {
		log.Printf("[stripe] Error creating refund for %s: %s\n", paymentIntentId, err.Error())
		return nil, err
	}
	return refund, nil
}
