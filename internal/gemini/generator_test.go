package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSDKGenerator_SendsPersonaImageAndPrompt(t *testing.T) {
	var body map[string]any
	var path string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  Leaf rust. Spray fungicide.  "}]}}]}`)
	}))

	got, err := NewSDKGenerator(client).Generate(context.Background(), "gemini-2.5-flash", Request{
		Persona: "You are a plant doctor.",
		Prompt:  "What is wrong with this leaf?",
		Image:   &Image{Data: []byte{0xff, 0xd8, 0xff}, MediaType: "image/jpeg"},
	})
	require.NoError(t, err)
	require.Equal(t, "Leaf rust. Spray fungicide.", got)
	require.True(t, strings.HasSuffix(path, "gemini-2.5-flash:generateContent"), path)

	require.Contains(t, body, "systemInstruction")
	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	require.Contains(t, parts[0], "inlineData")
	require.Equal(t, "What is wrong with this leaf?", parts[1].(map[string]any)["text"])
}

func TestSDKGenerator_TextOnly(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Sow in June."}]}}]}`)
	}))

	got, err := NewSDKGenerator(client).Generate(context.Background(), "gemini-2.0-flash", Request{Prompt: "When to sow soybean?"})
	require.NoError(t, err)
	require.Equal(t, "Sow in June.", got)
	require.NotContains(t, body, "systemInstruction")
}

func TestSDKGenerator_EmptyResponse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))

	_, err := NewSDKGenerator(client).Generate(context.Background(), "gemini-2.5-flash", Request{Prompt: "hi"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSDKGenerator_QuotaErrorIsAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
	}))

	_, err := NewSDKGenerator(client).Generate(context.Background(), "gemini-2.5-flash", Request{Prompt: "hi"})
	require.Error(t, err)
	var apiErr genai.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 429, apiErr.Code)
	require.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
}
