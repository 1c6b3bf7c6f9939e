package assistant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrNoAPIKey is returned when the Gemini backend has no credentials.
var ErrNoAPIKey = errors.New("gemini api key not configured")

// Gemini is a Backend on the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate sends one request and returns the response text.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.ResponseSchema
	}

	contents := genai.Text(req.Prompt)
	if len(req.Image) > 0 {
		parts := []*genai.Part{
			genai.NewPartFromBytes(req.Image, req.ImageMIMEType),
			genai.NewPartFromText(req.Prompt),
		}
		contents = []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

type offline struct{}

func (offline) Generate(context.Context, Request) (string, error) { return "", ErrNoAPIKey }

// NewBackend returns a Gemini backend, or one that always fails when no key is
// configured so callers get the fallback answers.
func NewBackend(ctx context.Context, apiKey, model string, logger *zap.Logger) (Backend, error) {
	g, err := NewGemini(ctx, apiKey, model)
	if errors.Is(err, ErrNoAPIKey) {
		if logger != nil {
			logger.Warn("GEMINI_API_KEY not set; summaries and proctoring return fallbacks")
		}
		return offline{}, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}
