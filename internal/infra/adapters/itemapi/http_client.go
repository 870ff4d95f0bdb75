package itemapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ItemAPI = (*HTTPClient)(nil)

// maxErrorBody caps how much of a failed response is read into the error.
const maxErrorBody = 64 << 10

// HTTPClient posts one item per request as {"id": ..., <payload fields>}.
type HTTPClient struct {
	url    string
	client *http.Client
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	log    *zerolog.Logger
}

func NewHTTPClient(cfg config.ItemAPIConfig, logger *zerolog.Logger) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("item api: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	l := logger.With().Str("component", "ItemAPI").Logger()
	return &HTTPClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		ttl:    cfg.JWTTTL,
		now:    time.Now,
		log:    &l,
	}, nil
}

func (c *HTTPClient) Call(ctx context.Context, item model.WorkItem) error {
	body, err := requestBody(item)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		token, err := c.sign(item.CorrelationID)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.log.Debug().Str("item", item.CorrelationID).Int("status", resp.StatusCode).Msg("item call rejected")
	return &domain.ItemError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
}

func (c *HTTPClient) sign(subject string) (string, error) {
	now := c.now()
	ttl := c.ttl
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// requestBody merges the item ID into its payload object. Payload "id" keys
// are overwritten.
func requestBody(item model.WorkItem) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if p := bytes.TrimSpace(item.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		if err := json.Unmarshal(p, &fields); err != nil {
			return nil, &domain.ItemError{StatusCode: http.StatusBadRequest, Message: "payload must be a JSON object"}
		}
	}
	id, err := json.Marshal(item.CorrelationID)
	if err != nil {
		return nil, err
	}
	fields["id"] = id
	return json.Marshal(fields)
}

// errorMessage prefers the body's "error" field, then the raw text, then the
// status line.
func errorMessage(body []byte, status string) string {
	var withObj struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &withObj) == nil && withObj.Error.Message != "" {
		return withObj.Error.Message
	}
	var withStr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &withStr) == nil && withStr.Error != "" {
		return withStr.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}
