package contract

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInProgress     Status = "IN_PROGRESS"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusReturned       Status = "RETURNED"
	StatusCompleted      Status = "COMPLETED"
)

// Contract binds a requester and a provider to an accepted bid. The agreed
// price is copied from the bid at acceptance and never changes.
type Contract struct {
	ID           string
	RequestID    string
	BidID        string
	RequesterID  string
	ProviderID   string
	AgreedPrice  decimal.Decimal
	Status       Status
	ReturnReason *string
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Joined from the request.
	RequestTitle string
	DueAt        time.Time
}

// Review is the requester's rating recorded when they complete a contract.
type Review struct {
	ID          string
	ContractID  string
	RequesterID string
	ProviderID  string
	Rating      int
	Comment     string
	CreatedAt   time.Time
}

// TimelineEvent is one append-only row of a contract's audit trail.
type TimelineEvent struct {
	ID         int64
	ContractID string
	Type       string
	ActorID    *string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// Message is one note exchanged between the parties of a contract.
type Message struct {
	ID         string
	ContractID string
	SenderID   string
	SenderName string
	Body       string
	CreatedAt  time.Time
}

// AcceptanceParams carries what a bid acceptance knows when it
// materialises a contract inside its own transaction.
type AcceptanceParams struct {
	RequestID   string
	BidID       string
	RequesterID string
	ProviderID  string
	AgreedPrice decimal.Decimal
	AcceptedBy  string
}

// Scope restricts a listing to one party. Both empty means everything.
type Scope struct {
	RequesterID string
	ProviderID  string
}

// TimelineContractCreated is the first event of every contract.
const TimelineContractCreated = "CONTRACT_CREATED"
