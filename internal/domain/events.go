package domain

import "time"

// EventType names a domain event published after a state change commits.
type EventType string

const (
	EventOrderCreated  EventType = "order.created"
	EventPaymentPaid   EventType = "payment.paid"
	EventPaymentFailed EventType = "payment.failed"
)

// Event is the payload published to the event transport.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OrderID    string    `json:"orderId"`
	AccountID  string    `json:"accountId"`
	PaymentID  string    `json:"paymentId,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurredAt"`
}
