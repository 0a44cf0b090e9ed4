// Package admin answers the operator's overview questions: how big the
// marketplace is, who is on it and what is waiting for a decision.
package admin

import (
	"time"

	"github.com/shopspring/decimal"

	"expertflow/auth"
)

// Stats is a point-in-time overview of the marketplace.
type Stats struct {
	UsersByRole       map[auth.Role]int64
	RequestsByStatus  map[string]int64
	ContractsByStatus map[string]int64
	Money             Money
	Backlog           Backlog
	GeneratedAt       time.Time
}

// Money aggregates what has moved through the marketplace.
type Money struct {
	CompletedVolume decimal.Decimal
	PaidOut         decimal.Decimal
	AverageRating   float64
	Reviews         int64
}

// Backlog counts items waiting for an admin.
type Backlog struct {
	DeliverablesToVerify int64
	PayoutsPending       int64
	PayoutsPendingAmount decimal.Decimal
	VerificationsPending int64
}

// User is the admin's view of an account; credentials never leave auth.
type User struct {
	ID        string
	Email     string
	FullName  string
	Role      auth.Role
	CreatedAt time.Time
}

// UserFilter narrows ListUsers. A zero Role lists everyone.
type UserFilter struct {
	Role  auth.Role
	Limit int
}
