package request

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusCommitted Status = "COMMITTED"
)

// Request is a requester's description of work wanted.
type Request struct {
	ID            string
	OwnerID       string
	Title         string
	Description   string
	Category      string
	Difficulty    string
	DueAt         time.Time
	PriceMin      *decimal.Decimal
	PriceMax      *decimal.Decimal
	Status        Status
	AttachmentKey *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CreateParams struct {
	Title         string
	Description   string
	Category      string
	Difficulty    string
	DueAt         time.Time
	PriceMin      *decimal.Decimal
	PriceMax      *decimal.Decimal
	AttachmentKey *string
}

// Patch lists the editable fields. Nil means unchanged.
type Patch struct {
	Title    *string
	DueAt    *time.Time
	PriceMin *decimal.Decimal
	PriceMax *decimal.Decimal
}

func (p Patch) empty() bool {
	return p.Title == nil && p.DueAt == nil && p.PriceMin == nil && p.PriceMax == nil
}

type Filters struct {
	OwnerID   string
	Status    Status
	Category  string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

type ListResult struct {
	Items []Request
	Total int
}
