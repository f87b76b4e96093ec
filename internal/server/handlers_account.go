package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/auth"
	"krishimitra/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	City     string `json:"city"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) || errors.Is(err, auth.ErrPasswordTooLong) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logrus.Errorf("register: %v", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	u, err := s.Store.CreateUser(r.Context(), req.Username, hash, req.City)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "that username is already taken")
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	logrus.WithField("user", u.Username).Info("account created")
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	const badLogin = "incorrect username or password"
	u, err := s.Store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, badLogin)
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.Password)
	if err != nil {
		logrus.WithField("user", u.Username).Errorf("check password: %v", err)
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, badLogin)
		return
	}
	tok, exp, err := s.Sessions.Issue(u.ID)
	if err != nil {
		logrus.Errorf("issue session: %v", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	s.setSessionCookie(w, r, tok, exp)
	writeJSON(w, http.StatusOK, struct {
		User      *store.User `json:"user"`
		Token     string      `json:"token"`
		ExpiresAt time.Time   `json:"expires_at"`
	}{u, tok, exp})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.revokeSession(r); err != nil {
		logrus.WithField("requestId", requestID(r.Context())).Errorf("revoke session: %v", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r.Context()))
}

func (s *Server) handleUpdateCity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		City string `json:"city"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	u := currentUser(r.Context())
	if err := s.Store.UpdateUserCity(r.Context(), u.ID, req.City); err != nil {
		writeStoreError(w, r, err)
		return
	}
	u.City = strings.TrimSpace(req.City)
	writeJSON(w, http.StatusOK, u)
}
