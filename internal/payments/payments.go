// Package payments abstracts the hosted checkout provider.
package payments

import "context"

// Mode represents the type of checkout session that should be created.
type Mode string

const (
	// ModePayment processes a one-time payment.
	ModePayment Mode = "payment"
)

// PaymentStatusPaid is the provider's payment status of a settled session.
const PaymentStatusPaid = "paid"

// EventCheckoutCompleted is the webhook event emitted when a customer
// finishes a checkout.
const EventCheckoutCompleted = "checkout.session.completed"

// LineItem describes a purchasable item that should be included in a checkout session.
type LineItem struct {
	Name        string
	Description string
	AmountCents int64
	Quantity    int64
	Currency    string
}

// CheckoutParams encapsulates the parameters needed to create a checkout session.
type CheckoutParams struct {
	Mode       Mode
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	LineItems  []LineItem
}

// Session represents a checkout session created by a payment provider.
type Session struct {
	ID  string
	URL string
}

// SessionDetails represents the state of an existing checkout session.
type SessionDetails struct {
	ID            string
	Status        string
	PaymentStatus string
	Metadata      map[string]string
}

// Paid reports whether the provider considers the session settled.
func (d *SessionDetails) Paid() bool {
	return d != nil && d.PaymentStatus == PaymentStatusPaid
}

// Event is a verified webhook notification.
type Event struct {
	ID      string
	Type    string
	Session *SessionDetails
}

// Gateway defines the behaviour required from a checkout provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*SessionDetails, error)
	// ParseWebhook verifies signature over payload and decodes the event.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
