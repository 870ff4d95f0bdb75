package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"content-batch-pipeline/internal/domain/model"
)

// ResultMapper turns a successful response body into the target record.
type ResultMapper interface {
	Map(id model.CorrelationID, body json.RawMessage, c *model.GeneratedContent) error
}

// DefaultMappers maps every registered kind to its body shape.
func DefaultMappers() map[string]ResultMapper {
	chat := ChatCompletionMapper{}
	return map[string]ResultMapper{
		model.KindQuestion: chat,
		model.KindAnswer:   chat,
		model.KindSummary:  chat,
		model.KindEmbed:    EmbeddingMapper{},
	}
}

type ChatCompletionMapper struct{}

func (ChatCompletionMapper) Map(_ model.CorrelationID, body json.RawMessage, c *model.GeneratedContent) error {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("chat completion has no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fmt.Errorf("empty completion (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	c.Body = text
	c.Model = resp.Model
	return nil
}

type EmbeddingMapper struct{}

func (EmbeddingMapper) Map(_ model.CorrelationID, body json.RawMessage, c *model.GeneratedContent) error {
	var resp struct {
		Model string `json:"model"`
		Data  []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return errors.New("embedding response has no vector")
	}
	c.Embedding = resp.Data[0].Embedding
	c.Model = resp.Model
	return nil
}
