package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/auth"
	"krishimitra/internal/store"
)

// sessionToken reads the token from the session cookie, or from a Bearer
// header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(auth.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if ah := r.Header.Get("Authorization"); ah != "" {
		const p = "Bearer "
		if strings.HasPrefix(ah, p) {
			return strings.TrimSpace(ah[len(p):])
		}
	}
	return ""
}

// userFromRequest resolves the logged-in user. A missing or invalid session
// returns nil with no error.
func (s *Server) userFromRequest(r *http.Request) (*store.User, error) {
	tok := sessionToken(r)
	if tok == "" || s.Sessions == nil {
		return nil, nil
	}
	sess, err := s.Sessions.Parse(tok)
	if err != nil {
		return nil, nil
	}
	revoked, err := s.isRevoked(r.Context(), sess)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, nil
	}
	u, err := s.Store.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func revokedKey(id string) string { return "session:revoked:" + id }

func (s *Server) isRevoked(ctx context.Context, sess auth.Session) (bool, error) {
	if s.Revoked == nil {
		return false, nil
	}
	_, ok, err := s.Revoked.Get(ctx, revokedKey(sess.ID))
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return ok, nil
}

// revokeSession marks the request's session as logged out until it would
// have expired anyway. Requests without a valid session are a no-op.
func (s *Server) revokeSession(r *http.Request) error {
	tok := sessionToken(r)
	if tok == "" || s.Sessions == nil || s.Revoked == nil {
		return nil
	}
	sess, err := s.Sessions.Parse(tok)
	if err != nil {
		return nil
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.Revoked.Set(r.Context(), revokedKey(sess.ID), strconv.FormatInt(sess.UserID, 10), ttl)
}

func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.userFromRequest(r)
		if err != nil {
			logrus.Errorf("load session user: %v", err)
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
		if u == nil {
			writeError(w, http.StatusUnauthorized, "please log in to access this page")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// currentUser is the user set by requireUser.
func currentUser(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
