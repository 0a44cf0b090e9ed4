package deliverable

import (
	"io"
	"time"

	"expertflow/contract"
)

type Kind string

const (
	KindDraft Kind = "DRAFT"
	KindFinal Kind = "FINAL"
)

// Deliverable is a file a provider uploaded against a contract.
type Deliverable struct {
	ID           string
	ContractID   string
	UploaderID   string
	Kind         Kind
	StorageKey   string
	OriginalName string
	MediaType    string
	SizeBytes    int64
	Verified     bool
	VerifiedBy   *string
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

// FileMeta describes a blob already in storage.
type FileMeta struct {
	StorageKey   string
	OriginalName string
	MediaType    string
	SizeBytes    int64
}

// File is an upload still to be stored.
type File struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

// ContractView is the admin's view of a contract and everything uploaded
// for it.
type ContractView struct {
	Contract     contract.Contract
	Deliverables []Deliverable
}
