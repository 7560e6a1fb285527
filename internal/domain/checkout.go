package domain

import "time"

// CheckoutStatus is the payment state of a checkout session.
type CheckoutStatus string

const (
	CheckoutUnpaid CheckoutStatus = "UNPAID"
	CheckoutPaid   CheckoutStatus = "PAID"
)

// CheckoutSession binds a payment to the set of artifacts it unlocks.
// Paid only ever moves from false to true.
type CheckoutSession struct {
	ID          string     `json:"id"`
	ArtifactIDs []string   `json:"artifactIds"`
	Paid        bool       `json:"paid"`
	Mock        bool       `json:"mock"`
	Bundle      bool       `json:"bundle"`
	URL         string     `json:"url,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

// Status reports the state machine position of the session.
func (c *CheckoutSession) Status() CheckoutStatus {
	if c.Paid {
		return CheckoutPaid
	}
	return CheckoutUnpaid
}

// MarkPaid moves the session to PAID. It returns false when the session was
// already paid.
func (c *CheckoutSession) MarkPaid(at time.Time) bool {
	if c.Paid {
		return false
	}
	c.Paid = true
	c.PaidAt = &at
	return true
}
