// Package summary produces short natural-language descriptions of cluster
// alerts using an OpenAI-compatible chat completion API.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"pulsereveal/internal/config"
	"pulsereveal/internal/models"
	"pulsereveal/pkg/utils"
)

// Placeholder is returned whenever a summary cannot be produced.
const Placeholder = "Summary unavailable."

const systemPrompt = "You are a financial analyst. Summarize clusters of SEC Form 4 insider transactions " +
	"in two or three plain sentences. Do not use markdown. Do not give investment advice."

// Summarizer describes a cluster alert. Implementations never fail: on
// error they return Placeholder.
type Summarizer interface {
	Summarize(ctx context.Context, alert models.ClusterAlert) string
}

// OpenAISummarizer calls a chat completion endpoint.
type OpenAISummarizer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOpenAISummarizer creates a summarizer against baseURL (OpenRouter by
// default). An empty baseURL uses the OpenAI endpoint.
func NewOpenAISummarizer(apiKey, baseURL, model string, logger zerolog.Logger) *OpenAISummarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISummarizer{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: 30 * time.Second,
		logger:  logger.With().Str("component", "summary").Logger(),
	}
}

// FromConfig returns an OpenAISummarizer when an API key is configured and
// a StaticSummarizer otherwise.
func FromConfig(cfg *config.Config, logger zerolog.Logger) Summarizer {
	if cfg.Credentials.OpenRouter.APIKey == "" {
		return StaticSummarizer{}
	}
	return NewOpenAISummarizer(cfg.Credentials.OpenRouter.APIKey, cfg.Summary.BaseURL, cfg.Summary.Model, logger)
}

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, alert models.ClusterAlert) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(alert)},
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("company", alert.Company).Msg("Summary request failed")
		return Placeholder
	}
	if len(resp.Choices) == 0 {
		s.logger.Warn().Str("company", alert.Company).Msg("Summary response had no choices")
		return Placeholder
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Placeholder
	}
	return text
}

// Prompt renders the user prompt for an alert.
func Prompt(alert models.ClusterAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", alert.Company)
	if alert.From != alert.To {
		fmt.Fprintf(&b, "Period: %s to %s\n", alert.From, alert.To)
	} else {
		fmt.Fprintf(&b, "Date: %s\n", alert.Date)
	}
	fmt.Fprintf(&b, "Combined value: %s across %d transactions\n", utils.FormatUSD(alert.TotalAmount), alert.TransactionCount)
	fmt.Fprintf(&b, "Insiders (%d): %s\n", alert.InsiderCount(), strings.Join(alert.Insiders, ", "))
	return b.String()
}

// StaticSummarizer renders a fixed description without any remote call.
type StaticSummarizer struct{}

// Summarize implements Summarizer.
func (StaticSummarizer) Summarize(_ context.Context, alert models.ClusterAlert) string {
	return fmt.Sprintf("%d insiders at %s traded a combined %s.",
		alert.InsiderCount(), alert.Company, utils.FormatCompact(alert.TotalAmount))
}
