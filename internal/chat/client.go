// Package chat wraps the Gemini API for Image Insight: one structured-output
// call that analyses an image, and a streamed conversational reply.
package chat

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ContentGenerator is the subset of *genai.Models the generator depends on.
// Tests substitute a fake.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// NewGeminiClient creates a Gemini Developer API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// Generator issues analysis and chat calls against one model.
type Generator struct {
	models ContentGenerator
	model  string
}

// NewGenerator returns a Generator bound to model, resolved with
// ResolveModel.
func NewGenerator(models ContentGenerator, model string) *Generator {
	model = ResolveModel(model)
	log.Debug().Str("model", model).Msg("Gemini generator configured")
	return &Generator{models: models, model: model}
}

// Model returns the model ID used for every call.
func (g *Generator) Model() string {
	return g.model
}
