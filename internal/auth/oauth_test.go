package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func writeCredsFile(t *testing.T, c VertexCreds) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "creds.json")
	b, _ := json.Marshal(c)
	if err := os.WriteFile(p, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadVertexCreds(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	p := writeCredsFile(t, VertexCreds{AccessToken: "a1", RefreshToken: "r", TokenType: "Bearer", ExpiryDateMS: exp.UnixMilli()})
	got, xp, err := LoadVertexCreds(p)
	if err != nil || xp != p {
		t.Fatalf("load failed: %v %v", xp, err)
	}
	tok := got.token()
	if tok.AccessToken != "a1" || tok.TokenType != "Bearer" || tok.RefreshToken != "r" || !tok.Expiry.Equal(exp) {
		t.Fatalf("bad mapping: %+v", tok)
	}
}

func TestLoadVertexCreds_Empty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(p, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadVertexCreds(p); err == nil {
		t.Fatal("expected error for tokenless creds file")
	}
}

func TestSavingTokenSource_WritesRefreshedToken(t *testing.T) {
	initial := VertexCreds{AccessToken: "a1", RefreshToken: "r", TokenType: "Bearer", ExpiryDateMS: time.Now().Add(-time.Minute).UnixMilli()}
	p := writeCredsFile(t, initial)
	fake := &fakeTS{toks: []*oauth2.Token{{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)}}}
	ts := &savingTokenSource{base: fake, creds: initial, path: p}

	if _, err := ts.Token(); err != nil {
		t.Fatal(err)
	}
	saved, _, err := LoadVertexCreds(p)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccessToken != "a2" || saved.RefreshToken != "r" {
		t.Fatalf("expected refreshed token with kept refresh token, got %+v", saved)
	}
}

func TestNewVertexTokenSource_UsesStoredToken(t *testing.T) {
	p := writeCredsFile(t, VertexCreds{AccessToken: "live", RefreshToken: "r", TokenType: "Bearer", ExpiryDateMS: time.Now().Add(time.Hour).UnixMilli()})
	ts, err := NewVertexTokenSource(context.Background(), "cid", "secret", p)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("unexpected refresh attempt: %v", err)
	}
	if tok.AccessToken != "live" {
		t.Fatalf("expected unexpired stored token, got %q", tok.AccessToken)
	}
}

type fakeTS struct{ toks []*oauth2.Token }

func (f *fakeTS) Token() (*oauth2.Token, error) {
	if len(f.toks) == 0 {
		return &oauth2.Token{AccessToken: "final", Expiry: time.Now().Add(time.Hour)}, nil
	}
	t := f.toks[0]
	f.toks = f.toks[1:]
	return t, nil
}
