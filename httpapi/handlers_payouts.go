package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/payout"
	"expertflow/provider"
)

func (s *Server) handlePayoutSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Payouts.Summary(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(sum))
}

type payoutRequestBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Destination string          `json:"accountDetails"`
	Note        string          `json:"note"`
}

func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	var body payoutRequestBody
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Payouts.Request(r.Context(), caller(r), payout.RequestParams{
		Amount:      body.Amount,
		Currency:    body.Currency,
		Method:      body.Method,
		Destination: body.Destination,
		Note:        body.Note,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayout(p))
}

func (s *Server) handleListMyPayouts(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Payouts.ListMine(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toPayout), len(items)))
}

func (s *Server) handleAdminListPayouts(w http.ResponseWriter, r *http.Request) {
	status := payout.Status(strings.ToUpper(r.URL.Query().Get("status")))
	items, err := s.svc.Payouts.AdminList(r.Context(), caller(r), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toPayout), len(items)))
}

func (s *Server) handleUpdatePayout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(body.Status) == "" {
		s.fail(w, r, apperr.Validation("status required"))
		return
	}
	p, err := s.svc.Payouts.UpdateStatus(r.Context(), chi.URLParam(r, "id"), caller(r), payout.Status(body.Status))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayout(p))
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	items, err := s.svc.Providers.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toProfile), len(items)))
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Providers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (s *Server) handleUpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Headline  string   `json:"headline"`
		Bio       string   `json:"bio"`
		Subjects  []string `json:"subjects"`
		Languages []string `json:"languages"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Providers.UpdateMine(r.Context(), caller(r), provider.UpdateParams{
		Headline:  body.Headline,
		Bio:       body.Bio,
		Subjects:  body.Subjects,
		Languages: body.Languages,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (s *Server) handleProviderReviews(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Contracts.ReviewsForProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toReview), len(items)))
}
