package payments

import (
	"context"
	"fmt"
	"strings"

	"mentorbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway creates Checkout Sessions for booking payments. The session
// ID doubles as the gateway reference that asynchronous payment signals are
// reconciled by.
type StripeGateway struct {
	api        *client.API
	successURL string
	cancelURL  string
	logger     *zerolog.Logger
}

func NewStripeGateway(apiKey, successURL, cancelURL string, logger *zerolog.Logger) *StripeGateway {
	return &StripeGateway{
		api:        client.New(apiKey, nil),
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)

func (g *StripeGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(currency)),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Mentorship session"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	g.logger.Debug().Str("session_id", session.ID).Msg("checkout session created")
	return &domain.PaymentIntent{
		GatewayRef:  session.ID,
		CheckoutURL: session.URL,
	}, nil
}
