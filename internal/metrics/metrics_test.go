package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsereveal/internal/transform"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveFiling("parsed")
	m.ObserveFiling("parsed")
	m.ObserveFiling("malformed")
	m.ObserveRawRows(7)
	m.ObservePromotion(transform.OutcomePromoted, "")
	m.ObservePromotion(transform.OutcomeSkipped, transform.ReasonZeroShares)
	m.ObserveAlerts("company_date", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilingsTotal.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilingsTotal.WithLabelValues("malformed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RawRowsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PromotionsTotal.WithLabelValues("skipped", "zero_shares")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClusterAlertsTotal.WithLabelValues("company_date")))

	m.ObserveStage("crawl", time.Now().Add(-time.Second), nil)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDurationSeconds))
}

func TestMetrics_PushEmptyURLIsNoop(t *testing.T) {
	require.NoError(t, New().Push(context.Background(), "", "pulsereveal", "run"))
}

func TestMetrics_PushSendsRegistry(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.ObserveRawRows(3)
	require.NoError(t, m.Push(context.Background(), srv.URL, "pulsereveal", "abc"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/pulsereveal/run_id/abc"), path)
	assert.NotEmpty(t, body)
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFiling("parsed")
		m.ObserveRawRows(3)
		m.ObservePromotion(transform.OutcomePromoted, "")
		m.ObserveAlerts("company_date", 1)
		m.ObserveStage("run", time.Now(), nil)
	})
}
