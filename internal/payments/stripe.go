package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"portraitstudio/internal/domain"
)

type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	sessions      checkoutSessions
	webhookSecret string
}

// NewStripeGateway builds a gateway for secretKey. webhookSecret verifies
// incoming notifications.
func NewStripeGateway(secretKey, webhookSecret string) (*StripeGateway, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("payments: stripe secret key is required")
	}
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, errors.New("payments: stripe webhook secret is required")
	}
	sc := client.New(secretKey, nil)
	return &StripeGateway{sessions: sc.CheckoutSessions, webhookSecret: webhookSecret}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*Session, error) {
	if len(p.LineItems) == 0 {
		return nil, errors.New("payments: at least one line item is required")
	}
	mode := p.Mode
	if mode == "" {
		mode = ModePayment
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	for _, item := range p.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(item.Currency),
				UnitAmount:  stripe.Int64(item.AmountCents),
				ProductData: product,
			},
			Quantity: stripe.Int64(quantity),
		})
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("payments: create stripe session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.sessions.Get(sessionID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return nil, domain.Errorf(domain.KindSessionNotFound, "checkout %s", sessionID)
		}
		return nil, fmt.Errorf("payments: get stripe session: %w", err)
	}
	return detailsFrom(s), nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidSignature, err, "stripe webhook")
	}
	out := &Event{ID: event.ID, Type: string(event.Type)}
	if out.Type == EventCheckoutCompleted && event.Data != nil {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, domain.Wrap(domain.KindInvalidRequest, err, "decode checkout session")
		}
		out.Session = detailsFrom(&s)
	}
	return out, nil
}

func detailsFrom(s *stripe.CheckoutSession) *SessionDetails {
	return &SessionDetails{
		ID:            s.ID,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
}

var _ Gateway = (*StripeGateway)(nil)
