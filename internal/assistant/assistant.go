package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"krishimitra/internal/gemini"
	"krishimitra/internal/metrics"
	"krishimitra/internal/utils"
)

type Kind string

const (
	KindOK                Kind = "ok"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindGenerationFailure Kind = "generation_failure"
)

// QuotaMessage is shown instead of the raw error when the AI service rate limits us.
const QuotaMessage = "The AI assistant is receiving too many requests right now. Please wait a minute and try again."

// Result is the outcome of one AI call. Exactly one of Answer or Error is set.
type Result struct {
	Kind   Kind   `json:"kind"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
	Model  string `json:"model,omitempty"`
}

func (r Result) OK() bool { return r.Kind == KindOK }

// ModelSelector resolves the model used for the next call.
type ModelSelector interface {
	Select(ctx context.Context) gemini.Selection
}

// Assistant turns prompts into Results. It never returns an error or panics
// past Invoke.
type Assistant struct {
	selector ModelSelector
	gen      gemini.Generator
	timeout  time.Duration
}

func New(selector ModelSelector, gen gemini.Generator, timeout time.Duration) *Assistant {
	return &Assistant{selector: selector, gen: gen, timeout: timeout}
}

// Invoke resolves a model and runs one generation with the given persona as
// the system instruction.
func (a *Assistant) Invoke(ctx context.Context, prompt string, image *gemini.Image, persona string) Result {
	return a.run(ctx, "invoke", gemini.Request{Persona: persona, Prompt: prompt, Image: image})
}

func (a *Assistant) run(ctx context.Context, shape string, req gemini.Request) (res Result) {
	start := time.Now()
	var sel gemini.Selection
	defer func() {
		if p := recover(); p != nil {
			logrus.WithField("shape", shape).Errorf("panic in AI call: %v", p)
			res = Result{Kind: KindGenerationFailure, Error: fmt.Sprintf("internal error: %v", p), Model: sel.Model}
		}
		elapsed := time.Since(start)
		metrics.AIInvocations.WithLabelValues(shape, string(res.Kind)).Inc()
		metrics.AILatency.Observe(elapsed.Seconds())
		logrus.WithFields(logrus.Fields{
			"shape":        shape,
			"model":        sel.Model,
			"rule":         sel.Rule,
			"promptTokens": countTokens(req.Persona, req.Prompt),
			"image":        req.Image != nil,
			"kind":         res.Kind,
			"duration":     elapsed.Round(time.Millisecond),
		}).Info("AI call finished")
	}()

	if a.selector == nil || a.gen == nil {
		return Result{Kind: KindGenerationFailure, Error: "AI assistant is not configured"}
	}
	sel = a.selector.Select(ctx)
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithField("model", sel.Model).Debugf("sending to model %s", utils.TruncateLongStringInObject(req, 120))
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	answer, err := a.gen.Generate(ctx, sel.Model, req)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = gemini.ErrEmptyResponse
	}
	if err != nil {
		if IsQuotaError(err) {
			logrus.WithField("model", sel.Model).Warnf("AI quota exceeded: %v", err)
			return Result{Kind: KindQuotaExceeded, Error: QuotaMessage, Model: sel.Model}
		}
		logrus.WithField("model", sel.Model).Errorf("AI generation failed: %v", err)
		return Result{Kind: KindGenerationFailure, Error: describe(err), Model: sel.Model}
	}
	return Result{Kind: KindOK, Answer: strings.TrimSpace(answer), Model: sel.Model}
}

// IsQuotaError reports whether err is a rate limit or quota exhaustion. A
// structured status wins; the "429" substring is only consulted for errors
// that carry no status.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == 429 || apiErrPtr.Status == "RESOURCE_EXHAUSTED"
	}
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode() == 429
	}
	return strings.Contains(err.Error(), "429")
}

// describe prefers the remote message over the SDK's formatted error string.
func describe(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("%s (code %d)", apiErr.Message, apiErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the AI assistant took too long to answer"
	}
	return err.Error()
}
