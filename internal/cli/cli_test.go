package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliIndex = `Form Type   Company Name        CIK         Date Filed  File Name
---------------------------------------------------------------------------------
4           Acme Corp           1111111     20250424    edgar/data/1111111/a.txt
4           Acme Corp           1111111     20250424    edgar/data/1111111/b.txt
4           Acme Corp           1111111     20250424    edgar/data/1111111/c.txt
`

func cliFiling(owner, code, shares, price string) string {
	return fmt.Sprintf(`<SEC-DOCUMENT>
<XML>
<?xml version="1.0"?>
<ownershipDocument>
    <issuer><issuerName>Acme Corp</issuerName></issuer>
    <reportingOwner><reportingOwnerId><rptOwnerName>%s</rptOwnerName></reportingOwnerId></reportingOwner>
    <nonDerivativeTable>
        <nonDerivativeTransaction>
            <securityTitle><value>Common Stock</value></securityTitle>
            <transactionDate><value>2025-04-24</value></transactionDate>
            <transactionCoding><transactionCode>%s</transactionCode></transactionCoding>
            <transactionAmounts>
                <transactionShares><value>%s</value></transactionShares>
                <transactionPricePerShare><value>%s</value></transactionPricePerShare>
            </transactionAmounts>
        </nonDerivativeTransaction>
    </nonDerivativeTable>
</ownershipDocument>
</XML>
</SEC-DOCUMENT>`, owner, code, shares, price)
}

func newEdgar(t *testing.T) *httptest.Server {
	t.Helper()
	docs := map[string]string{
		"/Archives/edgar/daily-index/2025/QTR2/form.20250424.idx": cliIndex,
		"/Archives/edgar/data/1111111/a.txt":                      cliFiling("Bob Brown", "P", "1000", "200"),
		"/Archives/edgar/data/1111111/b.txt":                      cliFiling("Alice Smith", "P", "2000", "100"),
		"/Archives/edgar/data/1111111/c.txt":                      cliFiling("Carol Jones", "S", "1500", "100"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newConfigDir writes a config.toml pointing at a temp database and the
// fake EDGAR server.
func newConfigDir(t *testing.T, baseURL string) string {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PULSE_STORE_DRIVER", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	dir := t.TempDir()
	toml := fmt.Sprintf(`[store]
driver = "sqlite3"
dsn = %q

[edgar]
base_url = %q
user_agent = "pulsereveal-test test@example.com"
index_delay = "0s"
request_delay = "0s"
concurrency = 2

[logging]
level = "error"
file = false
`, filepath.Join(dir, "pulse.db"), baseURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestConfigValidate(t *testing.T) {
	dir := newConfigDir(t, "http://127.0.0.1:1")

	out, err := execute(t, "config", "validate", "--config", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)

	out, err = execute(t, "config", "path", "--config", dir)
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", out)
}

func TestConfigShow_HidesSecrets(t *testing.T) {
	dir := newConfigDir(t, "http://127.0.0.1:1")
	t.Setenv("TELEGRAM_BOT_TOKEN", "secret-token")

	out, err := execute(t, "config", "show", "--config", dir, "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "company_date")
}

func TestRunThenClusters(t *testing.T) {
	srv := newEdgar(t)
	dir := newConfigDir(t, srv.URL)

	out, err := execute(t, "run", "--date", "2025-04-24", "--config", dir, "--json")
	require.NoError(t, err)

	var run struct {
		RunID string `json:"run_id"`
		Crawl struct {
			Filings      int `json:"filings"`
			RowsAppended int `json:"rows_appended"`
		} `json:"crawl"`
		Transform struct {
			Promoted int `json:"promoted"`
		} `json:"transform"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 3, run.Crawl.Filings)
	assert.Equal(t, 3, run.Crawl.RowsAppended)
	assert.Equal(t, 3, run.Transform.Promoted)

	out, err = execute(t, "clusters", "--as-of", "2025-04-25", "--summarize", "--config", dir, "--json")
	require.NoError(t, err)

	var clusters struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Alerts []struct {
			Company     string          `json:"company"`
			Date        string          `json:"date"`
			TotalAmount decimal.Decimal `json:"total_amount"`
			Insiders    []string        `json:"insiders"`
			Summary     string          `json:"summary"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &clusters))
	assert.Equal(t, "2025-04-20", clusters.From)
	assert.Equal(t, "2025-04-25", clusters.To)
	require.Len(t, clusters.Alerts, 1)

	alert := clusters.Alerts[0]
	assert.Equal(t, "Acme Corp", alert.Company)
	assert.Equal(t, "2025-04-24", alert.Date)
	assert.True(t, alert.TotalAmount.Equal(decimal.NewFromInt(550000)), alert.TotalAmount.String())
	assert.Equal(t, []string{"Alice Smith", "Bob Brown", "Carol Jones"}, alert.Insiders)
	assert.Equal(t, "3 insiders at Acme Corp traded a combined $550.0K.", alert.Summary)

	// Raising the bar removes the alert
	out, err = execute(t, "clusters", "--as-of", "2025-04-25", "--min-insiders", "4", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No clusters found")
}

func TestTransactionsAndTop(t *testing.T) {
	srv := newEdgar(t)
	dir := newConfigDir(t, srv.URL)

	_, err := execute(t, "run", "--date", "2025-04-24", "--config", dir)
	require.NoError(t, err)

	out, err := execute(t, "transactions", "--company", "acme", "--code", "p", "--config", dir, "--json")
	require.NoError(t, err)
	var txns []struct {
		InsiderName     string `json:"insider_name"`
		TransactionType string `json:"transaction_type"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &txns))
	require.Len(t, txns, 2)
	for _, tx := range txns {
		assert.Equal(t, "Buy", tx.TransactionType)
	}

	out, err = execute(t, "top", "--from", "2025-04-01", "--to", "2025-04-30", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Acme Corp")
	assert.Contains(t, out, "$550.0K")
}

func TestRun_InvalidDate(t *testing.T) {
	dir := newConfigDir(t, "http://127.0.0.1:1")

	_, err := execute(t, "run", "--date", "24/04/2025", "--config", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected YYYY-MM-DD")
}

func TestParseDay(t *testing.T) {
	day, err := parseDay("2025-04-24")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 24, 0, 0, 0, 0, time.UTC), day)

	today, err := parseDay("")
	require.NoError(t, err)
	assert.Zero(t, today.Hour())
	assert.Equal(t, time.Now().Day(), today.Day())

	_, err = parseDay("2025-13-01")
	assert.Error(t, err)
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	out := &Output{writer: &buf}

	table := NewTable(out, "COMPANY", "TOTAL")
	table.AddRow("Acme Corp", "$550,000.00")
	table.AddRow("Globex", "$1.00")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "COMPANY    TOTAL", lines[0])
	assert.Equal(t, "Acme Corp  $550,000.00", lines[2])
	assert.Equal(t, "Globex     $1.00", lines[3])
}

func TestVisibleLen_IgnoresColor(t *testing.T) {
	out := &Output{colorEnabled: true}
	assert.Equal(t, 5, visibleLen(out.Green("hello")))
	assert.Equal(t, 3, visibleLen("─┌┐"))
}
