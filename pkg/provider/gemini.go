// Package provider adapts hosted model APIs to the narrow interfaces the pipeline stages use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API. The same value serves OCR (Transcribe) and JSON
// generation (Generate); Schema, when set, constrains Generate's output.
type Gemini struct {
	client *genai.Client
	Model  string
	Schema *genai.Schema
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: GEMINI_API_KEY is not set")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{client: c, Model: model}, nil
}

// WithSchema returns a copy of g whose Generate output is constrained to s.
func (g *Gemini) WithSchema(s *genai.Schema) *Gemini {
	cp := *g
	cp.Schema = s
	return &cp
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Transcribe(ctx context.Context, data []byte, contentType, prompt string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(data, contentType),
	}, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.Model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return resp.Text(), nil
}

// Generate sends a text prompt and returns the raw JSON body of the answer.
func (g *Gemini) Generate(ctx context.Context, prompt string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}
	if g.Schema != nil {
		cfg.ResponseSchema = g.Schema
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, errors.New("gemini generate: empty response")
	}
	return []byte(text), nil
}
