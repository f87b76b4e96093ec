package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// Generator runs one content generation call against a named model.
type Generator interface {
	Generate(ctx context.Context, model string, req Request) (string, error)
}

// SDKGenerator generates through the genai SDK.
type SDKGenerator struct {
	client *genai.Client
}

func NewSDKGenerator(client *genai.Client) *SDKGenerator {
	return &SDKGenerator{client: client}
}

// Generate sends the persona as the system instruction and the prompt (with
// the image first, when present) as a single user turn.
func (g *SDKGenerator) Generate(ctx context.Context, model string, req Request) (string, error) {
	parts := make([]*genai.Part, 0, 2)
	if req.Image != nil && len(req.Image.Data) > 0 {
		mt := req.Image.MediaType
		if mt == "" {
			mt = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, mt))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	var cfg *genai.GenerateContentConfig
	if p := strings.TrimSpace(req.Persona); p != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(p, genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
