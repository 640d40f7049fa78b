// Package llm wraps the Gemini API for the four text-generation
// collaborators: contract analysis, attorney brief, quiz generation and the
// streamed intake chat.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/tbourn/ip-intake-backend/internal/domain"
)

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = errors.New("llm: api key not configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// briefContextRunes bounds how much prior analysis is sent with a brief.
const briefContextRunes = 1000

// modelAPI is the subset of *genai.Models used here.
type modelAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Config selects models and the API key.
type Config struct {
	APIKey        string
	AnalysisModel string
	FastModel     string
	// ThinkingBudget is the token budget for contract analysis. Zero disables it.
	ThinkingBudget int32
}

// Client talks to Gemini. A Client without an API key is valid and answers
// every call with ErrNotConfigured (or an empty quiz).
type Client struct {
	models modelAPI
	cfg    Config
	log    zerolog.Logger
}

// New builds a client. An empty API key yields an unconfigured client, not
// an error.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = "gemini-3-pro-preview"
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "gemini-3-flash-preview"
	}
	c := &Client{cfg: cfg, log: log}
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Warn().Msg("gemini api key not set; AI features disabled")
		return c, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	c.models = gc.Models
	return c, nil
}

// Configured reports whether calls will reach the model.
func (c *Client) Configured() bool { return c.models != nil }

func (c *Client) span(ctx context.Context, name, model string) (context.Context, trace.Span) {
	return otel.Tracer("llm/Client").Start(ctx, name,
		trace.WithAttributes(attribute.String("llm.model", model)))
}

// Analyze audits a contract document for the named requester.
func (c *Client) Analyze(ctx context.Context, doc []byte, mimeType, requester string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	ctx, span := c.span(ctx, "Analyze", c.cfg.AnalysisModel)
	defer span.End()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(doc, mimeType),
			genai.NewPartFromText(analysisPrompt(requester)),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.2)}
	if c.cfg.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(c.cfg.ThinkingBudget)}
	}

	resp, err := c.models.GenerateContent(ctx, c.cfg.AnalysisModel, contents, cfg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm: analyze: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// WriteBrief summarises a case for the advocate's consultation call.
func (c *Client) WriteBrief(ctx context.Context, clientName, analysis, complaints string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	ctx, span := c.span(ctx, "WriteBrief", c.cfg.FastModel)
	defer span.End()

	prompt := briefPrompt(clientName, complaints, truncateRunes(analysis, briefContextRunes))
	resp, err := c.models.GenerateContent(ctx, c.cfg.FastModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.1)})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm: brief: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var quizSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"question":           {Type: genai.TypeString},
			"options":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"correctAnswerIndex": {Type: genai.TypeInteger},
			"explanation":        {Type: genai.TypeString},
			"sourceUrl":          {Type: genai.TypeString},
		},
		Required: []string{"question", "options", "correctAnswerIndex", "explanation", "sourceUrl"},
	},
}

// GenerateQuiz returns up to domain.QuizBatchSize well-formed questions.
// Any failure yields an empty list and a nil error.
func (c *Client) GenerateQuiz(ctx context.Context, category string) ([]domain.QuizQuestion, error) {
	if !c.Configured() {
		c.log.Warn().Msg("quiz not generated: gemini not configured")
		return []domain.QuizQuestion{}, nil
	}
	ctx, span := c.span(ctx, "GenerateQuiz", c.cfg.FastModel)
	defer span.End()
	span.SetAttributes(attribute.String("quiz.category", category))

	resp, err := c.models.GenerateContent(ctx, c.cfg.FastModel,
		[]*genai.Content{genai.NewContentFromText(quizPrompt(category, domain.QuizBatchSize), genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.8),
			ResponseMIMEType: "application/json",
			ResponseSchema:   quizSchema,
		})
	if err != nil {
		span.RecordError(err)
		c.log.Error().Err(err).Str("category", category).Msg("quiz synthesis failed")
		return []domain.QuizQuestion{}, nil
	}
	return parseQuiz(resp.Text(), c.log), nil
}

func parseQuiz(raw string, log zerolog.Logger) []domain.QuizQuestion {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")
	var all []domain.QuizQuestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &all); err != nil {
		log.Error().Err(err).Msg("quiz response is not a JSON array")
		return []domain.QuizQuestion{}
	}
	out := make([]domain.QuizQuestion, 0, domain.QuizBatchSize)
	for _, q := range all {
		if !q.Valid() {
			continue
		}
		out = append(out, q)
		if len(out) == domain.QuizBatchSize {
			break
		}
	}
	if dropped := len(all) - len(out); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("discarded malformed or surplus quiz questions")
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
