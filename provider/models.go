package provider

import "time"

// VerificationStatus tracks an admin's review of a provider's credentials.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "UNVERIFIED"
	VerificationPending  VerificationStatus = "PENDING"
	VerificationApproved VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// Profile captures the public face of a provider shown next to their bids.
type Profile struct {
	UserID    string
	FullName  string
	Headline  string
	Bio       string
	Subjects  []string
	Languages []string
	Verified  bool
	UpdatedAt time.Time

	Verification Verification
}

// Verification is the state of a provider's latest verification request.
type Verification struct {
	Status      VerificationStatus
	Message     string
	AdminNote   string
	RequestedAt *time.Time
}

// UpdateParams carries the fields a provider may edit on their own profile.
type UpdateParams struct {
	Headline  string
	Bio       string
	Subjects  []string
	Languages []string
}
