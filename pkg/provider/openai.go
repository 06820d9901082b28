package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompat talks to any OpenAI-compatible endpoint: Groq for vision and chat, or a
// local LM Studio / Ollama server for embeddings.
type OpenAICompat struct {
	client *openai.Client
	name   string
	Model  string
}

func NewOpenAICompat(name, baseURL, apiKey, model string) *OpenAICompat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAICompat{client: openai.NewClientWithConfig(cfg), name: name, Model: model}
}

func (o *OpenAICompat) Name() string { return o.name }

func (o *OpenAICompat) Transcribe(ctx context.Context, data []byte, contentType, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.Model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(data, contentType),
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%s transcribe: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s transcribe: no choices", o.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// Generate asks for a JSON object answer and returns it raw.
func (o *OpenAICompat) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          o.Model,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Reply with a single JSON object and nothing else."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", o.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%s generate: empty response", o.name)
	}
	return []byte(resp.Choices[0].Message.Content), nil
}

// Embed returns the embedding of text, or nil when the endpoint answered without one.
func (o *OpenAICompat) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", o.name, err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func dataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
