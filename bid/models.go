package bid

import (
	"time"

	"github.com/shopspring/decimal"

	"expertflow/provider"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Bid is a provider's offer against a request. Only Status changes after
// creation.
type Bid struct {
	ID           string
	RequestID    string
	ProviderID   string
	Price        decimal.Decimal
	DurationDays int
	Pitch        string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SubmitParams struct {
	RequestID    string
	Price        decimal.Decimal
	DurationDays int
	Pitch        string
}

// Listing is a bid as the request owner sees it: with the bidder's public
// profile and recent completed work attached at read time.
type Listing struct {
	Bid
	Provider provider.Profile
	History  []HistoryEntry
}

// HistoryEntry is one completed contract in a provider's track record.
type HistoryEntry struct {
	ContractID  string
	RequestID   string
	Title       string
	Category    string
	CompletedAt time.Time
	Deliverable DeliverableRef
}

// DeliverableRef points at the first file uploaded for a contract.
type DeliverableRef struct {
	ID           string
	StorageKey   string
	OriginalName string
	MediaType    string
}
