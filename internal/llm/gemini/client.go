// Package gemini implements llm.StatementParser on Google's Gemini models.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/llm"
)

// DefaultModelName is used when Config.Model is empty.
const DefaultModelName = "gemini-2.5-flash"

// Config configures the Gemini parser.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Parser sends statement text or page images to Gemini.
type Parser struct {
	cfg    Config
	models generator
	log    zerolog.Logger
}

// New creates a Parser backed by the Gemini API.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Parser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini.New: create genai client: %w", err)
	}
	return newWithGenerator(cfg, client.Models, log), nil
}

func newWithGenerator(cfg Config, models generator, log zerolog.Logger) *Parser {
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	return &Parser{cfg: cfg, models: models, log: log}
}

// ParseStatement implements llm.StatementParser.
func (p *Parser) ParseStatement(ctx context.Context, in llm.Input) (*domain.ParsedStatement, error) {
	if in.Text == "" && !in.IsVision() {
		return nil, llm.ErrEmptyInput
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	rid := uuid.New().String()
	start := time.Now()
	log := p.log.With().Str("req_id", rid).Str("model", p.cfg.Model).Logger()
	log.Info().
		Bool("vision", in.IsVision()).
		Int("text_len", len(in.Text)).
		Int("pages", len(in.Images)).
		Msg("Gemini extraction started")

	parts := []*genai.Part{{Text: llm.UserPrompt(in)}}
	for _, img := range in.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: img.MIMEType,
				Data:     img.Data,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := p.models.GenerateContent(ctx, p.cfg.Model, contents, generateConfig())
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Gemini request failed")
		return nil, fmt.Errorf("ParseStatement: generate content: %w", err)
	}

	parsed := llm.DecodeResponse(resp.Text())
	log.Info().
		Int("transactions", len(parsed.Transactions)).
		Int("dropped", parsed.Dropped).
		Dur("elapsed", time.Since(start)).
		Msg("Gemini extraction finished")
	return parsed, nil
}

func generateConfig() *genai.GenerateContentConfig {
	var temperature float32
	return &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: llm.SystemPrompt()}},
		},
	}
}

func responseSchema() *genai.Schema {
	nullable := true
	nullableDate := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Nullable: &nullable}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transactions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"date":        {Type: genai.TypeString},
						"description": {Type: genai.TypeString},
						"amount":      {Type: genai.TypeNumber},
						"type":        {Type: genai.TypeString, Format: "enum", Enum: []string{string(domain.TypeDebit), string(domain.TypeCredit)}},
						"category":    {Type: genai.TypeString, Format: "enum", Enum: domain.CategoryNames()},
					},
					Required: []string{"date", "description", "amount", "type", "category"},
				},
			},
			"bankName":    {Type: genai.TypeString, Nullable: &nullable},
			"periodStart": nullableDate(),
			"periodEnd":   nullableDate(),
		},
		Required: []string{"transactions"},
	}
}

var _ llm.StatementParser = (*Parser)(nil)
