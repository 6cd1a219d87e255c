// Package payments verifies externally processed payments before they reach the ledger.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

// OrderMetadataKey is the PaymentIntent metadata key that, when present, must name the order being paid.
const OrderMetadataKey = "orderId"

type paymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeVerifierConfig configures NewStripeVerifier. Currency, when set, must match the intent.
type StripeVerifierConfig struct {
	APIKey   string
	Account  string
	Currency string
	Backends *stripe.Backends

	intents paymentIntentAPI
}

// StripeVerifier implements services.PaymentVerifier for stripe payments. Other methods pass.
type StripeVerifier struct {
	intents  paymentIntentAPI
	account  string
	currency string
}

func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	intents := cfg.intents
	if intents == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(key, cfg.Backends).PaymentIntents
	}
	return &StripeVerifier{
		intents:  intents,
		account:  strings.TrimSpace(cfg.Account),
		currency: strings.ToLower(strings.TrimSpace(cfg.Currency)),
	}, nil
}

// VerifyPayment requires a succeeded PaymentIntent whose received amount covers the payment.
func (v *StripeVerifier) VerifyPayment(ctx context.Context, req services.PaymentVerification) error {
	if req.Method != domain.PaymentMethodStripe {
		return nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}

	intent, err := v.intents.Get(req.Reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing) {
			return rejected("payment intent not found")
		}
		return fmt.Errorf("%w: stripe: retrieve payment intent: %v", services.ErrUnavailable, err)
	}

	switch {
	case intent.Status != stripe.PaymentIntentStatusSucceeded:
		return rejected(fmt.Sprintf("payment intent status is %s", intent.Status))
	case v.currency != "" && !strings.EqualFold(string(intent.Currency), v.currency):
		return rejected(fmt.Sprintf("payment intent currency %s does not match %s", intent.Currency, v.currency))
	case intent.AmountReceived < req.Amount.Int64():
		return rejected(fmt.Sprintf("payment intent received %d, less than %d", intent.AmountReceived, req.Amount.Int64()))
	}
	if orderID, ok := intent.Metadata[OrderMetadataKey]; ok && orderID != req.OrderID {
		return rejected("payment intent belongs to another order")
	}
	return nil
}

func rejected(reason string) error {
	return &services.ValidationError{Field: "reference", Reason: reason}
}
