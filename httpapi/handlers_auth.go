package httpapi

import (
	"errors"
	"net/http"

	"expertflow/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body auth.RegisterRequest
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.svc.Auth.Register(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(*user))
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body auth.LoginRequest
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Auth.Login(r.Context(), body)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid email or password", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: ts(res.ExpiresAt),
		User:      toUser(res.User),
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Auth.RequestPasswordReset(r.Context(), body.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	// Same answer whether or not the address is registered.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Auth.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Auth.GetUserByID(r.Context(), caller(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(*user))
}
