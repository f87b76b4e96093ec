package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"krishimitra/internal/auth"
	"krishimitra/internal/config"
	"krishimitra/internal/httpx"
)

// NewClient builds a genai client for the configured backend: an API key for
// the Gemini API, or stored OAuth credentials for Vertex AI.
func NewClient(ctx context.Context, cfg config.Config) (*genai.Client, error) {
	proxyURL, err := cfg.ProxyURL()
	if err != nil {
		return nil, err
	}
	timeout := cfg.AITimeout()

	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimSpace(cfg.GeminiBaseURL),
			Headers: http.Header{"User-Agent": []string{config.UserAgent}},
		},
	}
	if timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}

	if v := cfg.Vertex; v != nil {
		ts, err := auth.NewVertexTokenSource(ctx, v.OAuthClientID, v.OAuthClientSecret, v.OAuthCredsFile)
		if err != nil {
			return nil, err
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = v.Project
		cc.Location = v.Location
		cc.HTTPClient = httpx.NewOAuthHTTPClient(ts, proxyURL, timeout)
		logrus.WithFields(logrus.Fields{"project": v.Project, "location": v.Location}).Info("using Vertex AI backend")
	} else {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.GeminiAPIKey
		cc.HTTPClient = httpx.NewHTTPClient(proxyURL, timeout)
		logrus.Info("using Gemini API backend")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}
