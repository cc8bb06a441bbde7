package services

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"studypal_go_backend/internal/plans"
)

// StripeService creates subscription checkouts for the paid tiers and
// verifies webhook events.
type StripeService struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	priceIDs      map[plans.Plan]string
}

func NewStripeService(secretKey, webhookSecret, successURL, cancelURL, goldPriceID, diamondPriceID string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		priceIDs: map[plans.Plan]string{
			plans.Gold:    goldPriceID,
			plans.Diamond: diamondPriceID,
		},
	}
}

// CreateSubscriptionCheckout starts a checkout session for upgrading userID
// to the given paid plan.
func (s *StripeService) CreateSubscriptionCheckout(userID string, plan plans.Plan) (*stripe.CheckoutSession, error) {
	priceID, ok := s.priceIDs[plan]
	if !ok || priceID == "" {
		return nil, fmt.Errorf("no price configured for plan %q", plan)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(userID),
		Metadata: map[string]string{
			"plan": string(plan),
		},
	}

	return session.New(params)
}

// HandleWebhook verifies the event signature and parses the event.
func (s *StripeService) HandleWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
}
