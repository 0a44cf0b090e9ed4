package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/bid"
	"expertflow/request"
)

type createRequestBody struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Difficulty  string           `json:"difficulty"`
	DueAt       time.Time        `json:"dueAt"`
	PriceMin    *decimal.Decimal `json:"priceMin"`
	PriceMax    *decimal.Decimal `json:"priceMax"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.svc.Requests.Create(r.Context(), caller(r), request.CreateParams{
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		Difficulty:  body.Difficulty,
		DueAt:       body.DueAt,
		PriceMin:    body.PriceMin,
		PriceMax:    body.PriceMax,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequest(req))
}

// parseFilters reads page, pageSize, category, sort and order.
func parseFilters(r *http.Request) (request.Filters, error) {
	q := r.URL.Query()
	f := request.Filters{
		Category:  strings.TrimSpace(q.Get("category")),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	for name, dst := range map[string]*int{"page": &f.Page, "pageSize": &f.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return request.Filters{}, apperr.Validation("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return f, nil
}

func (s *Server) handleListOpenRequests(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Requests.ListOpen(r.Context(), filters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(res.Items, toRequest), res.Total))
}

func (s *Server) handleListMyRequests(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filters.Status = request.Status(strings.ToUpper(r.URL.Query().Get("status")))
	res, err := s.svc.Requests.ListMine(r.Context(), caller(r), filters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(res.Items, toRequest), res.Total))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequest(req))
}

type editRequestBody struct {
	Title    *string          `json:"title"`
	DueAt    *time.Time       `json:"dueAt"`
	PriceMin *decimal.Decimal `json:"priceMin"`
	PriceMax *decimal.Decimal `json:"priceMax"`
}

func (s *Server) handleEditRequest(w http.ResponseWriter, r *http.Request) {
	var body editRequestBody
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.svc.Requests.Edit(r.Context(), chi.URLParam(r, "id"), caller(r), request.Patch{
		Title:    body.Title,
		DueAt:    body.DueAt,
		PriceMin: body.PriceMin,
		PriceMax: body.PriceMax,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequest(req))
}

type submitBidBody struct {
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"durationDays"`
	Pitch        string          `json:"pitch"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var body submitBidBody
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.svc.Bids.Submit(r.Context(), caller(r), bid.SubmitParams{
		RequestID:    chi.URLParam(r, "id"),
		Price:        body.Price,
		DurationDays: body.DurationDays,
		Pitch:        body.Pitch,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBid(b))
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	listings, err := s.svc.Bids.ListForRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(listings, toListing), len(listings)))
}

type acceptResponse struct {
	Contract contractResponse `json:"contract"`
	Bid      bidResponse      `json:"bid"`
	Rejected int64            `json:"rejectedBids"`
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Bids.Accept(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acceptResponse{
		Contract: toContract(res.Contract),
		Bid:      toBid(res.Bid),
		Rejected: res.Rejected,
	})
}
