package domain

import (
	"fmt"
	"time"
)

// PaymentStatus enumerates the payment lifecycle. Paid and Failed are terminal.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// CanTransition reports whether from -> to is a permitted forward move.
func CanTransition(from, to PaymentStatus) bool {
	return from == PaymentStatusPending && to.Terminal()
}

// PaymentTypeCard is the only collection method used by hosted checkout.
const PaymentTypeCard = "card"

// Payment tracks money collection for exactly one order.
type Payment struct {
	ID        string
	OrderID   string
	AccountID string
	Amount    int64
	Currency  string
	Status    PaymentStatus
	Type      string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// SessionPaymentStatus mirrors the gateway's view of collection.
type SessionPaymentStatus string

const (
	SessionPaymentUnpaid            SessionPaymentStatus = "unpaid"
	SessionPaymentPaid              SessionPaymentStatus = "paid"
	SessionPaymentNoPaymentRequired SessionPaymentStatus = "no_payment_required"
)

// SessionState mirrors the gateway's session lifecycle.
type SessionState string

const (
	SessionStateOpen     SessionState = "open"
	SessionStateComplete SessionState = "complete"
	SessionStateExpired  SessionState = "expired"
)

// GatewaySession is the authoritative hosted checkout state fetched from the gateway.
type GatewaySession struct {
	ID            string
	URL           string
	State         SessionState
	PaymentStatus SessionPaymentStatus
	AmountTotal   int64
	Currency      string
	ExpiresAt     time.Time
	Metadata      map[string]string
}

// Paid reports whether the gateway considers the session collected.
func (s GatewaySession) Paid() bool {
	return s.PaymentStatus == SessionPaymentPaid
}

// FormatMinorUnits renders a two-decimal amount, e.g. 6000 -> "60.00".
func FormatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
