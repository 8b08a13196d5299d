package models

import "github.com/shopspring/decimal"

// ClusterRow is the minimal projection of a normalized transaction needed
// for cluster detection.
type ClusterRow struct {
	Company         string
	Insider         string
	TransactionDate string
	TotalValue      decimal.Decimal
}

// ClusterAlert flags a group of distinct insiders trading a combined value
// above threshold. It is computed on demand and never persisted.
type ClusterAlert struct {
	Company          string          `json:"company"`
	Date             string          `json:"date"`
	From             string          `json:"from"`
	To               string          `json:"to"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Insiders         []string        `json:"insiders"`
	TransactionCount int             `json:"transaction_count"`
}

// InsiderCount returns the number of distinct insiders in the alert.
func (a ClusterAlert) InsiderCount() int {
	return len(a.Insiders)
}
