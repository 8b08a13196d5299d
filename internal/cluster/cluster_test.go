package cluster

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsereveal/internal/models"
	"pulsereveal/internal/store"
	"pulsereveal/internal/transform"
)

func row(company, insider, date string, value int64) models.ClusterRow {
	return models.ClusterRow{Company: company, Insider: insider, TransactionDate: date, TotalValue: decimal.NewFromInt(value)}
}

func TestDetect_AcmeScenario(t *testing.T) {
	rows := []models.ClusterRow{
		row("Acme Corp", "Alice", "2025-04-24", 200000),
		row("Acme Corp", "Bob", "2025-04-24", 200000),
		row("Acme Corp", "Carol", "2025-04-24", 150000),
	}

	alerts := Detect(rows, DefaultOptions())
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "Acme Corp", a.Company)
	assert.Equal(t, "2025-04-24", a.Date)
	assert.True(t, a.TotalAmount.Equal(decimal.NewFromInt(550000)))
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, a.Insiders)
	assert.Equal(t, 3, a.InsiderCount())
	assert.Equal(t, 3, a.TransactionCount)
}

func TestDetect_TwoInsidersSameTotalNoAlert(t *testing.T) {
	rows := []models.ClusterRow{
		row("Acme Corp", "Alice", "2025-04-24", 200000),
		row("Acme Corp", "Bob", "2025-04-24", 200000),
		row("Acme Corp", "Bob", "2025-04-24", 150000),
	}

	assert.Empty(t, Detect(rows, DefaultOptions()))
}

func TestDetect_Thresholds(t *testing.T) {
	base := []models.ClusterRow{
		row("Acme Corp", "Alice", "2025-04-24", 200000),
		row("Acme Corp", "Bob", "2025-04-24", 200000),
		row("Acme Corp", "Carol", "2025-04-24", 99999),
	}
	assert.Empty(t, Detect(base, DefaultOptions()), "499,999 is under the amount threshold")

	exact := append([]models.ClusterRow{}, base...)
	exact[2] = row("Acme Corp", "Carol", "2025-04-24", 100000)
	assert.Len(t, Detect(exact, DefaultOptions()), 1, "500,000 meets the threshold")
}

func TestDetect_CompanyDateSplitsDays(t *testing.T) {
	rows := []models.ClusterRow{
		row("Acme Corp", "Alice", "2025-04-22", 300000),
		row("Acme Corp", "Bob", "2025-04-23", 300000),
		row("Acme Corp", "Carol", "2025-04-24", 300000),
	}

	assert.Empty(t, Detect(rows, DefaultOptions()))

	opts := DefaultOptions()
	opts.GroupBy = GroupByCompanyWindow
	alerts := Detect(rows, opts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "2025-04-22", alerts[0].From)
	assert.Equal(t, "2025-04-24", alerts[0].To)
	assert.Equal(t, "2025-04-24", alerts[0].Date)
	assert.True(t, alerts[0].TotalAmount.Equal(decimal.NewFromInt(900000)))
}

func TestDetect_OrderedByDateThenAmount(t *testing.T) {
	var rows []models.ClusterRow
	for _, c := range []struct {
		company string
		date    string
		each    int64
	}{
		{"Globex Inc", "2025-04-23", 400000},
		{"Acme Corp", "2025-04-24", 200000},
		{"Initech", "2025-04-24", 300000},
		{"Hooli", "2025-04-24", 200000},
	} {
		for _, who := range []string{"A", "B", "C"} {
			rows = append(rows, row(c.company, who, c.date, c.each))
		}
	}

	alerts := Detect(rows, DefaultOptions())
	require.Len(t, alerts, 4)
	assert.Equal(t, "Initech", alerts[0].Company)
	assert.Equal(t, "Acme Corp", alerts[1].Company)
	assert.Equal(t, "Hooli", alerts[2].Company)
	assert.Equal(t, "Globex Inc", alerts[3].Company)
}

// Property: shuffling the input never changes the alerts.
func TestProperty_DetectOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	companies := []string{"Acme Corp", "Globex Inc", "Initech"}
	insiders := []string{"Alice", "Bob", "Carol", "Dave", "Erin"}
	dates := []string{"2025-04-22", "2025-04-23", "2025-04-24"}

	properties.Property("alerts are stable under permutation", prop.ForAll(
		func(picks []int, amounts []int64, seed int64, window bool) bool {
			n := len(picks)
			if len(amounts) < n {
				n = len(amounts)
			}
			rows := make([]models.ClusterRow, n)
			for i := 0; i < n; i++ {
				p := picks[i]
				rows[i] = row(companies[p%3], insiders[(p/3)%5], dates[(p/15)%3], amounts[i])
			}

			opts := DefaultOptions()
			if window {
				opts.GroupBy = GroupByCompanyWindow
			}
			want := Detect(rows, opts)

			shuffled := append([]models.ClusterRow{}, rows...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			got := Detect(shuffled, opts)

			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i].Company != want[i].Company || got[i].Date != want[i].Date ||
					!got[i].TotalAmount.Equal(want[i].TotalAmount) ||
					len(got[i].Insiders) != len(want[i].Insiders) {
					return false
				}
				for k := range got[i].Insiders {
					if got[i].Insiders[k] != want[i].Insiders[k] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.IntRange(0, 44)),
		gen.SliceOfN(40, gen.Int64Range(1000, 400000)),
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestTopCompanies(t *testing.T) {
	rows := []models.ClusterRow{
		row("Acme Corp", "Alice", "2025-04-24", 100),
		row("Acme Corp", "Bob", "2025-04-24", 100),
		row("Globex Inc", "Carol", "2025-04-24", 500),
		row("Initech", "Dave", "2025-04-24", 50),
	}

	top := TopCompanies(rows, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "Globex Inc", top[0].Company)
	assert.Equal(t, "Acme Corp", top[1].Company)
	assert.Equal(t, 2, top[1].InsiderCount)
	assert.Equal(t, 2, top[1].TransactionCount)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.GroupBy = "insider"
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.MinInsiders = 0
	assert.Error(t, bad.Validate())
}

func TestDetector_RunOverStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "clusters.db"))
	require.NoError(t, err)
	defer s.Close()

	stage := func(insider, date, shares, price string) models.RawTransaction {
		return models.RawTransaction{
			IssuerName:      "Acme Corp",
			InsiderName:     insider,
			TransactionDate: date,
			TransactionCode: "P",
			Kind:            models.KindNonDerivative,
			Shares:          decimal.RequireFromString(shares),
			PricePerShare:   decimal.RequireFromString(price),
		}
	}
	require.NoError(t, s.AppendRaw(ctx, []models.RawTransaction{
		stage("Alice", "2025-04-24", "1000", "200"),
		stage("Bob", "2025-04-24", "2000", "100"),
		stage("Carol", "2025-04-24", "1500", "100"),
		// Outside the trailing window
		stage("Dave", "2025-04-01", "100000", "100"),
	}))
	_, err = transform.NewEngine(s, zerolog.Nop()).Drain(ctx)
	require.NoError(t, err)

	detector := NewDetector(s, DefaultOptions(), zerolog.Nop())
	asOf := time.Date(2025, 4, 25, 0, 0, 0, 0, time.UTC)

	alerts, err := detector.Run(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Acme Corp", alerts[0].Company)
	assert.Equal(t, "550000", alerts[0].TotalAmount.String())
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, alerts[0].Insiders)

	from, to := detector.WindowRange(asOf)
	assert.Equal(t, "2025-04-20", from.Format(models.DateLayout))
	assert.Equal(t, "2025-04-25", to.Format(models.DateLayout))

	top, err := detector.Top(ctx, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), asOf, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "10550000", top[0].TotalValue.String())
}
