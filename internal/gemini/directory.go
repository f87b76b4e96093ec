package gemini

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"krishimitra/internal/httpx"
)

var ErrDirectoryUnavailable = errors.New("model directory unavailable")

// Directory lists the model identifiers that currently support content generation.
type Directory interface {
	ListGenerativeModels(ctx context.Context) ([]string, error)
}

// SDKDirectory lists models through the genai SDK.
type SDKDirectory struct {
	client    *genai.Client
	retries   int
	baseDelay time.Duration
}

func NewSDKDirectory(client *genai.Client, retries int, baseDelay time.Duration) *SDKDirectory {
	return &SDKDirectory{client: client, retries: retries, baseDelay: baseDelay}
}

// ListGenerativeModels returns bare model ids in listing order. Transport and
// 5xx/429 faults are retried; auth and other client errors are not.
func (d *SDKDirectory) ListGenerativeModels(ctx context.Context) ([]string, error) {
	var names []string
	var permanent error
	err := httpx.WithRetries(ctx, d.retries, d.baseDelay, func(attempt int) error {
		names = names[:0]
		for m, err := range d.client.Models.All(ctx) {
			if err != nil {
				if !retryable(err) {
					permanent = err
					return nil
				}
				logrus.WithField("attempt", attempt).Debugf("model listing failed: %v", err)
				return err
			}
			if m == nil || !slices.Contains(m.SupportedActions, GenerateAction) {
				continue
			}
			names = append(names, modelID(m.Name))
		}
		return nil
	})
	if err == nil {
		err = permanent
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return names, nil
}

// modelID strips the resource prefix ("models/", "publishers/google/models/").
func modelID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
