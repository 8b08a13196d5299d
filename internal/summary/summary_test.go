package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsereveal/internal/config"
	"pulsereveal/internal/models"
)

func acmeAlert() models.ClusterAlert {
	return models.ClusterAlert{
		Company:          "Acme Corp",
		Date:             "2025-04-24",
		From:             "2025-04-24",
		To:               "2025-04-24",
		TotalAmount:      decimal.NewFromInt(550000),
		Insiders:         []string{"Alice", "Bob", "Carol"},
		TransactionCount: 3,
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt(acmeAlert())
	assert.Contains(t, p, "Company: Acme Corp")
	assert.Contains(t, p, "Date: 2025-04-24")
	assert.Contains(t, p, "$550,000.00 across 3 transactions")
	assert.Contains(t, p, "Insiders (3): Alice, Bob, Carol")

	window := acmeAlert()
	window.From = "2025-04-20"
	assert.Contains(t, Prompt(window), "Period: 2025-04-20 to 2025-04-24")
}

func TestOpenAISummarizer_ReturnsCompletion(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Three Acme insiders bought.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer("test-key", srv.URL, "openai/gpt-4o-mini", zerolog.Nop())
	assert.Equal(t, "Three Acme insiders bought.", s.Summarize(context.Background(), acmeAlert()))
	assert.Equal(t, "openai/gpt-4o-mini", gotModel)
}

func TestOpenAISummarizer_FailureYieldsPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewOpenAISummarizer("test-key", srv.URL, "m", zerolog.Nop())
	assert.Equal(t, Placeholder, s.Summarize(context.Background(), acmeAlert()))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	_, ok := FromConfig(cfg, zerolog.Nop()).(StaticSummarizer)
	assert.True(t, ok, "no key means static summaries")

	cfg.Credentials.OpenRouter.APIKey = "key"
	_, ok = FromConfig(cfg, zerolog.Nop()).(*OpenAISummarizer)
	assert.True(t, ok)

	assert.Equal(t, "3 insiders at Acme Corp traded a combined $550.0K.",
		StaticSummarizer{}.Summarize(context.Background(), acmeAlert()))
}
