package httpx

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	socks5proxy "golang.org/x/net/proxy"
	"golang.org/x/oauth2"
)

// NewTransport builds the shared upstream transport.
// If proxyURL is non-nil, it is used as the upstream proxy. Supported schemes: http, socks5.
func NewTransport(proxyURL *url.URL) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL != nil {
		switch proxyURL.Scheme {
		case "http":
			tr.Proxy = http.ProxyURL(proxyURL)
		case "socks5":
			d, err := socks5proxy.FromURL(proxyURL, dialer)
			if err == nil && d != nil {
				tr.DialContext = nil
				tr.Dial = d.Dial
				tr.Proxy = nil
			}
		}
	}
	return tr
}

// NewHTTPClient creates a plain *http.Client for keyed upstreams (Gemini API key,
// OpenWeatherMap). A zero timeout leaves deadlines to per-request contexts.
func NewHTTPClient(proxyURL *url.URL, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(proxyURL),
		Timeout:   timeout,
	}
}

// NewOAuthHTTPClient creates an *http.Client with OAuth2 transport, used for
// the Vertex AI backend.
func NewOAuthHTTPClient(ts oauth2.TokenSource, proxyURL *url.URL, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: NewTransport(proxyURL)},
		Timeout:   timeout,
	}
}

// WithRetries runs fn with exponential backoff w/ jitter.
func WithRetries(ctx context.Context, max int, baseDelay time.Duration, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt == max {
			break
		}
		// jitter: 1.0 to 1.2 multiplier
		jitter := 1.0 + rand.Float64()*0.2
		factor := 1 << uint(attempt)
		delay := time.Duration(float64(baseDelay) * jitter * float64(factor))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
