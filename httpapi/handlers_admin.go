package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"expertflow/admin"
	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/contract"
	"expertflow/provider"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Admin.Stats(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStats(st))
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	filter := admin.UserFilter{Role: auth.Role(strings.ToLower(r.URL.Query().Get("role")))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	users, err := s.svc.Admin.ListUsers(r.Context(), caller(r), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(users, toAdminUser), len(users)))
}

// handleAdminListContracts lists every contract. ListMine already widens
// to everything for admins; the guard keeps other roles from mistaking
// their own list for the full one.
func (s *Server) handleAdminListContracts(w http.ResponseWriter, r *http.Request) {
	if !caller(r).IsAdmin() {
		s.fail(w, r, contract.ErrAdminOnly)
		return
	}
	items, err := s.svc.Contracts.ListMine(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
		kept := items[:0]
		for _, c := range items {
			if string(c.Status) == status {
				kept = append(kept, c)
			}
		}
		items = kept
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toContract), len(items)))
}

func (s *Server) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Providers.RequestVerification(r.Context(), caller(r), body.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerification(p))
}

func (s *Server) handleListPendingVerification(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Providers.AdminListPending(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toVerification), len(items)))
}

func (s *Server) handleDecideVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status    string `json:"status"`
		AdminNote string `json:"adminNote"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(body.Status) == "" {
		s.fail(w, r, apperr.Validation("verification status required"))
		return
	}
	p, err := s.svc.Providers.AdminSetVerification(r.Context(), caller(r), chi.URLParam(r, "id"), provider.VerificationStatus(body.Status), body.AdminNote)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerification(p))
}
