// Package openai implements llm.StatementParser against OpenAI-compatible
// chat/completions endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey  string
	BaseURL string        // default https://api.openai.com/v1
	Model   string        // default gpt-4o-mini
	Timeout time.Duration // http client timeout
}

// Client talks to chat/completions with JSON output mode.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a Client, filling config defaults.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// ParseStatement implements llm.StatementParser.
func (c *Client) ParseStatement(ctx context.Context, in llm.Input) (*domain.ParsedStatement, error) {
	if in.Text == "" && !in.IsVision() {
		return nil, llm.ErrEmptyInput
	}

	rid := uuid.New().String()
	start := time.Now()
	log := c.log.With().Str("req_id", rid).Str("model", c.cfg.Model).Logger()
	log.Info().
		Bool("vision", in.IsVision()).
		Int("text_len", len(in.Text)).
		Int("pages", len(in.Images)).
		Msg("OpenAI extraction started")

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.SystemPrompt()},
			{"role": "user", "content": userContent(in)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("OpenAI request failed")
		return nil, fmt.Errorf("ParseStatement: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil || len(cc.Choices) == 0 {
		log.Warn().Int("raw_bytes", len(raw)).Msg("OpenAI response had no usable choice")
		return llm.DecodeResponse(""), nil
	}

	parsed := llm.DecodeResponse(cc.Choices[0].Message.Content)
	log.Info().
		Int("transactions", len(parsed.Transactions)).
		Int("dropped", parsed.Dropped).
		Dur("elapsed", time.Since(start)).
		Msg("OpenAI extraction finished")
	return parsed, nil
}

// userContent is a plain string on the text path and a list of content
// parts (prompt first, then one image_url per page) on the image path.
func userContent(in llm.Input) any {
	prompt := llm.UserPrompt(in)
	if !in.IsVision() {
		return prompt
	}
	parts := []map[string]any{{"type": "text", "text": prompt}}
	for _, img := range in.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": img.DataURL(), "detail": "high"},
		})
	}
	return parts
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn().Err(err).Msg("openai response body close error")
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &llm.APIError{Provider: "openai", StatusCode: resp.StatusCode, Body: truncate(buf.String(), 1024)}
	}
	return buf.Bytes(), nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

var _ llm.StatementParser = (*Client)(nil)
