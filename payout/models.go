package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the review state of a payout request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusPaid     Status = "PAID"
)

const DefaultCurrency = "USD"

// Payout mirrors the payout_requests table.
type Payout struct {
	ID          string
	ProviderID  string
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Destination string
	Note        *string
	Status      Status
	ReviewedBy  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RequestParams struct {
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Destination string
	Note        string
}

// Summary is a provider's earnings position. Available never drops below
// zero.
type Summary struct {
	Earned         decimal.Decimal
	Active         decimal.Decimal
	Committed      decimal.Decimal
	Available      decimal.Decimal
	CompletedCount int
}

// Totals are the raw sums Summary is derived from.
type Totals struct {
	Earned         decimal.Decimal
	Active         decimal.Decimal
	Committed      decimal.Decimal
	CompletedCount int
}

func (t Totals) Summary() Summary {
	available := t.Earned.Sub(t.Committed)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return Summary{
		Earned:         t.Earned,
		Active:         t.Active,
		Committed:      t.Committed,
		Available:      available,
		CompletedCount: t.CompletedCount,
	}
}
