package aigen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/c360studio/ticketflow/changeset"
	"github.com/c360studio/ticketflow/tracker"
	"github.com/c360studio/ticketflow/workflow"
)

const systemPrompt = "You are a senior software engineer working on ticket-driven code changes. " +
	"You respond only with the JSON object requested, never with prose."

// ErrNoAPIKey indicates the client was configured without credentials.
var ErrNoAPIKey = errors.New("openai api key is required")

// Config holds the OpenAI-compatible endpoint settings.
type Config struct {
	// APIKey authenticates against the endpoint.
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the endpoint, e.g. for a local gateway. Empty
	// uses the OpenAI default.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`

	// Model is the chat model, e.g. "gpt-4o".
	Model string `json:"model" yaml:"model"`

	// Temperature tunes sampling. Zero keeps the provider default.
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`
}

// Client implements Analyzer and Implementer against any
// OpenAI-compatible chat completion endpoint.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewClient creates an AI client from config.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "aigen"),
	}, nil
}

// Analyze asks the model for a structured analysis of the ticket.
func (c *Client) Analyze(ctx context.Context, ticket *tracker.Ticket) (*workflow.AnalysisResult, error) {
	content, err := c.complete(ctx, analysisPrompt(ticket))
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", ticket.Key, err)
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("analyze %s: response contained no JSON object", ticket.Key)
	}

	var result workflow.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("analyze %s: parse response: %w", ticket.Key, err)
	}

	result.TicketKey = ticket.Key
	result.AnalyzedAt = time.Now().UTC()
	if !result.Complexity.IsValid() {
		result.Complexity = workflow.ComplexityMedium
	}
	normalizePlan(result.Plan)

	c.logger.Info("analysis produced",
		"ticket", ticket.Key,
		"complexity", result.Complexity.String(),
		"plan_steps", len(result.Plan))
	return &result, nil
}

// Implement asks the model for a change set realizing the approved
// analysis.
func (c *Client) Implement(ctx context.Context, ticket *tracker.Ticket, analysis *workflow.AnalysisResult) (*changeset.ChangeSet, error) {
	content, err := c.complete(ctx, implementPrompt(ticket, analysis))
	if err != nil {
		return nil, fmt.Errorf("implement %s: %w", ticket.Key, err)
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("implement %s: response contained no JSON object", ticket.Key)
	}

	var cs changeset.ChangeSet
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, fmt.Errorf("implement %s: parse response: %w", ticket.Key, err)
	}
	cs.TicketKey = ticket.Key
	if cs.Summary == "" {
		cs.Summary = fmt.Sprintf("%s: %s", ticket.Key, ticket.Title)
	}

	c.logger.Info("change set produced", "ticket", ticket.Key, "edits", len(cs.Edits))
	return &cs, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if c.temperature > 0 {
		req.Temperature = c.temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
