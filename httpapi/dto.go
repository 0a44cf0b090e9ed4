package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"expertflow/admin"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/contract"
	"expertflow/deliverable"
	"expertflow/payout"
	"expertflow/provider"
	"expertflow/request"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T, total int) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total}
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func tsPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := ts(*t)
	return &s
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUser(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: ts(u.CreatedAt),
	}
}

type requestResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Difficulty  string  `json:"difficulty"`
	DueAt       string  `json:"dueAt"`
	PriceMin    *string `json:"priceMin,omitempty"`
	PriceMax    *string `json:"priceMax,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toRequest(req request.Request) requestResponse {
	return requestResponse{
		ID:          req.ID,
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Difficulty:  req.Difficulty,
		DueAt:       ts(req.DueAt),
		PriceMin:    moneyPtr(req.PriceMin),
		PriceMax:    moneyPtr(req.PriceMax),
		Status:      string(req.Status),
		CreatedAt:   ts(req.CreatedAt),
		UpdatedAt:   ts(req.UpdatedAt),
	}
}

type bidResponse struct {
	ID           string `json:"id"`
	RequestID    string `json:"requestId"`
	ProviderID   string `json:"providerId"`
	Price        string `json:"price"`
	DurationDays int    `json:"durationDays"`
	Pitch        string `json:"pitch"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

func toBid(b bid.Bid) bidResponse {
	return bidResponse{
		ID:           b.ID,
		RequestID:    b.RequestID,
		ProviderID:   b.ProviderID,
		Price:        money(b.Price),
		DurationDays: b.DurationDays,
		Pitch:        b.Pitch,
		Status:       string(b.Status),
		CreatedAt:    ts(b.CreatedAt),
	}
}

type profileResponse struct {
	UserID    string   `json:"userId"`
	FullName  string   `json:"fullName"`
	Headline  string   `json:"headline"`
	Bio       string   `json:"bio"`
	Subjects  []string `json:"subjects"`
	Languages []string `json:"languages"`
	Verified  bool     `json:"verified"`

	VerificationStatus string `json:"verificationStatus"`
}

func toProfile(p provider.Profile) profileResponse {
	return profileResponse{
		UserID:    p.UserID,
		FullName:  p.FullName,
		Headline:  p.Headline,
		Bio:       p.Bio,
		Subjects:  nonNil(p.Subjects),
		Languages: nonNil(p.Languages),
		Verified:  p.Verified,

		VerificationStatus: string(p.Verification.Status),
	}
}

// verificationResponse is the profile as the provider and admins see it,
// with the request and decision notes.
type verificationResponse struct {
	profileResponse
	Message     string  `json:"message"`
	AdminNote   string  `json:"adminNote"`
	RequestedAt *string `json:"requestedAt,omitempty"`
}

func toVerification(p provider.Profile) verificationResponse {
	return verificationResponse{
		profileResponse: toProfile(p),
		Message:         p.Verification.Message,
		AdminNote:       p.Verification.AdminNote,
		RequestedAt:     tsPtr(p.Verification.RequestedAt),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

type historyResponse struct {
	ContractID  string `json:"contractId"`
	RequestID   string `json:"requestId"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	CompletedAt string `json:"completedAt"`
	Deliverable struct {
		ID           string `json:"id"`
		OriginalName string `json:"originalName"`
		MediaType    string `json:"mediaType"`
	} `json:"deliverable"`
}

type listingResponse struct {
	bidResponse
	Provider profileResponse   `json:"provider"`
	History  []historyResponse `json:"history"`
}

func toListing(l bid.Listing) listingResponse {
	out := listingResponse{
		bidResponse: toBid(l.Bid),
		Provider:    toProfile(l.Provider),
		History:     make([]historyResponse, 0, len(l.History)),
	}
	for _, h := range l.History {
		var hr historyResponse
		hr.ContractID = h.ContractID
		hr.RequestID = h.RequestID
		hr.Title = h.Title
		hr.Category = h.Category
		hr.CompletedAt = ts(h.CompletedAt)
		hr.Deliverable.ID = h.Deliverable.ID
		hr.Deliverable.OriginalName = h.Deliverable.OriginalName
		hr.Deliverable.MediaType = h.Deliverable.MediaType
		out.History = append(out.History, hr)
	}
	return out
}

type contractResponse struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"requestId"`
	RequestTitle string  `json:"requestTitle"`
	BidID        string  `json:"bidId"`
	RequesterID  string  `json:"requesterId"`
	ProviderID   string  `json:"providerId"`
	AgreedPrice  string  `json:"agreedPrice"`
	Status       string  `json:"status"`
	ReturnReason *string `json:"returnReason,omitempty"`
	DueAt        string  `json:"dueAt"`
	CompletedAt  *string `json:"completedAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

func toContract(c contract.Contract) contractResponse {
	return contractResponse{
		ID:           c.ID,
		RequestID:    c.RequestID,
		RequestTitle: c.RequestTitle,
		BidID:        c.BidID,
		RequesterID:  c.RequesterID,
		ProviderID:   c.ProviderID,
		AgreedPrice:  money(c.AgreedPrice),
		Status:       string(c.Status),
		ReturnReason: c.ReturnReason,
		DueAt:        ts(c.DueAt),
		CompletedAt:  tsPtr(c.CompletedAt),
		CreatedAt:    ts(c.CreatedAt),
		UpdatedAt:    ts(c.UpdatedAt),
	}
}

type reviewResponse struct {
	ID          string `json:"id"`
	ContractID  string `json:"contractId"`
	RequesterID string `json:"requesterId"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	CreatedAt   string `json:"createdAt"`
}

func toReview(r contract.Review) reviewResponse {
	return reviewResponse{
		ID:          r.ID,
		ContractID:  r.ContractID,
		RequesterID: r.RequesterID,
		Rating:      r.Rating,
		Comment:     r.Comment,
		CreatedAt:   ts(r.CreatedAt),
	}
}

type eventResponse struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	ActorID   *string `json:"actorId,omitempty"`
	Payload   any     `json:"payload,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func toEvent(e contract.TimelineEvent) eventResponse {
	out := eventResponse{ID: e.ID, Type: e.Type, ActorID: e.ActorID, CreatedAt: ts(e.CreatedAt)}
	if len(e.Payload) > 0 {
		out.Payload = e.Payload
	}
	return out
}

type messageResponse struct {
	ID         string `json:"id"`
	ContractID string `json:"contractId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"createdAt"`
}

func toMessage(m contract.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		ContractID: m.ContractID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		CreatedAt:  ts(m.CreatedAt),
	}
}

type deliverableResponse struct {
	ID           string  `json:"id"`
	ContractID   string  `json:"contractId"`
	Kind         string  `json:"kind"`
	OriginalName string  `json:"originalName"`
	MediaType    string  `json:"mediaType"`
	SizeBytes    int64   `json:"sizeBytes"`
	Verified     bool    `json:"verified"`
	VerifiedAt   *string `json:"verifiedAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toDeliverable(d deliverable.Deliverable) deliverableResponse {
	return deliverableResponse{
		ID:           d.ID,
		ContractID:   d.ContractID,
		Kind:         string(d.Kind),
		OriginalName: d.OriginalName,
		MediaType:    d.MediaType,
		SizeBytes:    d.SizeBytes,
		Verified:     d.Verified,
		VerifiedAt:   tsPtr(d.VerifiedAt),
		CreatedAt:    ts(d.CreatedAt),
	}
}

type payoutResponse struct {
	ID          string  `json:"id"`
	ProviderID  string  `json:"providerId"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Method      string  `json:"method"`
	Destination string  `json:"destination"`
	Note        *string `json:"note,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toPayout(p payout.Payout) payoutResponse {
	return payoutResponse{
		ID:          p.ID,
		ProviderID:  p.ProviderID,
		Amount:      money(p.Amount),
		Currency:    p.Currency,
		Method:      p.Method,
		Destination: p.Destination,
		Note:        p.Note,
		Status:      string(p.Status),
		CreatedAt:   ts(p.CreatedAt),
		UpdatedAt:   ts(p.UpdatedAt),
	}
}

type summaryResponse struct {
	Earned         string `json:"lifetimeEarnings"`
	Active         string `json:"activeTotal"`
	Committed      string `json:"committed"`
	Available      string `json:"availableBalance"`
	CompletedCount int    `json:"completedCount"`
}

func toSummary(s payout.Summary) summaryResponse {
	return summaryResponse{
		Earned:         money(s.Earned),
		Active:         money(s.Active),
		Committed:      money(s.Committed),
		Available:      money(s.Available),
		CompletedCount: s.CompletedCount,
	}
}

type statsResponse struct {
	Users     map[string]int64 `json:"users"`
	Requests  map[string]int64 `json:"requests"`
	Contracts map[string]int64 `json:"contracts"`
	Money     struct {
		CompletedVolume string  `json:"completedVolume"`
		PaidOut         string  `json:"paidOut"`
		AverageRating   float64 `json:"averageRating"`
		Reviews         int64   `json:"reviews"`
	} `json:"money"`
	Backlog struct {
		DeliverablesToVerify int64  `json:"deliverablesToVerify"`
		PayoutsPending       int64  `json:"payoutsPending"`
		PayoutsPendingAmount string `json:"payoutsPendingAmount"`
		VerificationsPending int64  `json:"verificationsPending"`
	} `json:"backlog"`
	GeneratedAt string `json:"generatedAt"`
}

func toStats(st admin.Stats) statsResponse {
	out := statsResponse{
		Users:       make(map[string]int64, len(st.UsersByRole)),
		Requests:    st.RequestsByStatus,
		Contracts:   st.ContractsByStatus,
		GeneratedAt: ts(st.GeneratedAt),
	}
	for role, n := range st.UsersByRole {
		out.Users[string(role)] = n
	}
	out.Money.CompletedVolume = money(st.Money.CompletedVolume)
	out.Money.PaidOut = money(st.Money.PaidOut)
	out.Money.AverageRating = st.Money.AverageRating
	out.Money.Reviews = st.Money.Reviews
	out.Backlog.DeliverablesToVerify = st.Backlog.DeliverablesToVerify
	out.Backlog.PayoutsPending = st.Backlog.PayoutsPending
	out.Backlog.PayoutsPendingAmount = money(st.Backlog.PayoutsPendingAmount)
	out.Backlog.VerificationsPending = st.Backlog.VerificationsPending
	return out
}

func toAdminUser(u admin.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: ts(u.CreatedAt),
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
