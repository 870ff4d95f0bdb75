package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ adapter.ItemAPI = (*GeminiGenerator)(nil)

// generationRequest is the payload a work item carries for the generator.
type generationRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Model  string `json:"model,omitempty"`
}

// GeminiGenerator produces the record for one item synchronously and stores
// it under the item's natural key, so a replayed item is a no-op write.
type GeminiGenerator struct {
	client       *genai.Client
	content      repository.ContentRepository
	defaultModel string
	maxOut       int
	now          func() time.Time
}

func NewGeminiGenerator(ctx context.Context, cfg config.GeminiConfig, content repository.ContentRepository) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: c, content: content, defaultModel: cfg.Model, maxOut: cfg.MaxOutputTokens, now: time.Now}, nil
}

func (g *GeminiGenerator) Call(ctx context.Context, item model.WorkItem) error {
	id, err := model.ParseCorrelationID(item.CorrelationID)
	if err != nil {
		return &domain.ItemError{StatusCode: 400, Message: err.Error()}
	}
	var req generationRequest
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return &domain.ItemError{StatusCode: 400, Message: "payload: " + err.Error()}
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return &domain.ItemError{StatusCode: 400, Message: "payload has no prompt"}
	}

	cfg := &genai.GenerateContentConfig{}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	modelName := modelOrDefault(req.Model, g.defaultModel)
	resp, err := g.client.Models.GenerateContent(ctx, modelName,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}}, cfg)
	if err != nil {
		return mapGenAIError(err)
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var b strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
		text = strings.TrimSpace(b.String())
	}
	if text == "" {
		return &domain.ItemError{StatusCode: 502, Message: "empty generation"}
	}

	c := model.NewGeneratedContent(id, g.now().UTC())
	c.Body = text
	c.Model = modelName
	if _, _, err := g.content.Upsert(ctx, nil, c); err != nil {
		return fmt.Errorf("store generated content: %w", err)
	}
	return nil
}

func mapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ItemError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.ItemError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
