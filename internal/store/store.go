// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"pulsereveal/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Raw ledger
	AppendRaw(ctx context.Context, rows []models.RawTransaction) error
	ListStaged(ctx context.Context) ([]models.RawTransaction, error)
	CountRaw(ctx context.Context) (int, error)

	// Promotion
	Promote(ctx context.Context, raw models.RawTransaction, txn models.Transaction) (PromoteResult, error)

	// Identities
	ResolveIssuer(ctx context.Context, companyName string) (int64, error)
	ResolveInsider(ctx context.Context, name string, companyID int64) (int64, error)

	// Reads
	ClusterRows(ctx context.Context, dateRange DateRange) ([]models.ClusterRow, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.TransactionView, error)
	CountTransactions(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// PromoteResult describes the outcome of one promotion attempt.
type PromoteResult struct {
	// Promoted is false when the staged row was already gone, meaning a
	// concurrent engine promoted it first. Nothing was written in that case.
	Promoted bool
	// Duplicate is true when the source row was already in the ledger. The
	// staged copy was deleted and no transaction was written.
	Duplicate bool

	Transaction models.Transaction
}

// DateRange is an inclusive range of YYYY-MM-DD dates.
type DateRange struct {
	From string
	To   string
}

// TransactionFilter filters the joined transaction view.
type TransactionFilter struct {
	DateRange
	Company string // case-insensitive substring
	Insider string // case-insensitive substring
	Code    string
	Limit   int
}
