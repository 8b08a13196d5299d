package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestForStage_UsesRunLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	run := WithDate(WithRunID(base, "run-1"), time.Date(2025, 4, 24, 0, 0, 0, 0, time.UTC))

	ctx := WithLogger(context.Background(), run)
	log := ForStage(ctx, zerolog.Nop(), "crawl")
	log.Info().Msg("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "2025-04-24", entry["date"])
	assert.Equal(t, "crawl", entry["stage"])
}

func TestForStage_FallsBack(t *testing.T) {
	var buf bytes.Buffer
	fallback := WithFiling(zerolog.New(&buf), "edgar/data/1/a.txt")

	log := ForStage(context.Background(), fallback, "transform")
	log.Info().Msg("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "transform", entry["stage"])
	assert.Equal(t, "edgar/data/1/a.txt", entry["filing"])
	assert.NotContains(t, entry, "run_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}
