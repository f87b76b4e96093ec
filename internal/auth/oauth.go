package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"krishimitra/internal/utils"
)

// CloudPlatformScope is requested for Vertex AI calls.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexCreds is the authorized-user credentials file used for Vertex AI.
// expiry_date is milliseconds since the epoch.
type VertexCreds struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiryDateMS int64  `json:"expiry_date"`
	Scope        string `json:"scope,omitempty"`
}

func (c VertexCreds) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       time.UnixMilli(c.ExpiryDateMS),
	}
}

// LoadVertexCreds reads a credentials file, expanding a leading ~. It returns
// the expanded path alongside the creds.
func LoadVertexCreds(path string) (VertexCreds, string, error) {
	var c VertexCreds
	xp, err := utils.ExpandUser(path)
	if err != nil {
		return c, path, fmt.Errorf("expand path: %w", err)
	}
	b, err := os.ReadFile(xp)
	if err != nil {
		return c, xp, fmt.Errorf("read creds file: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, xp, fmt.Errorf("parse creds json: %w", err)
	}
	if c.RefreshToken == "" && c.AccessToken == "" {
		return c, xp, fmt.Errorf("creds file %s has no token", xp)
	}
	return c, xp, nil
}

// NewVertexTokenSource refreshes through Google's endpoint and writes each new
// access token back to the creds file so restarts reuse it.
func NewVertexTokenSource(ctx context.Context, clientID, clientSecret, path string) (oauth2.TokenSource, error) {
	creds, xp, err := LoadVertexCreds(path)
	if err != nil {
		return nil, err
	}
	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{CloudPlatformScope},
		Endpoint:     google.Endpoint,
	}
	return &savingTokenSource{base: cfg.TokenSource(ctx, creds.token()), creds: creds, path: xp}, nil
}

type savingTokenSource struct {
	base  oauth2.TokenSource
	path  string
	mu    sync.Mutex
	creds VertexCreds
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.creds.AccessToken {
		return tok, nil
	}
	s.creds.AccessToken = tok.AccessToken
	if tok.TokenType != "" {
		s.creds.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		s.creds.ExpiryDateMS = tok.Expiry.UnixMilli()
	}
	if err := writeCreds(s.path, s.creds); err != nil {
		// the refreshed token is still usable for this process
		logrus.WithField("path", s.path).Warnf("save refreshed vertex token: %v", err)
	}
	return tok, nil
}

// writeCreds replaces the file via a temp file in the same directory.
func writeCreds(path string, c VertexCreds) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vertex-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
