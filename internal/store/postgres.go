package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS raw_transactions (
		id BIGSERIAL PRIMARY KEY,
		issuer_name TEXT NOT NULL,
		insider_name TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		transaction_code TEXT NOT NULL,
		security_title TEXT,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('Non-Derivative', 'Derivative')),
		shares NUMERIC NOT NULL,
		price_per_share NUMERIC NOT NULL,
		filing_path TEXT,
		filing_seq INTEGER NOT NULL DEFAULT 0,
		filing_date TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_raw_transactions_code ON raw_transactions(transaction_code);

	CREATE TABLE IF NOT EXISTS issuers (
		company_id BIGSERIAL PRIMARY KEY,
		company_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS insiders (
		insider_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		company_id BIGINT NOT NULL REFERENCES issuers(company_id),
		relationship TEXT NOT NULL DEFAULT 'Unknown',
		UNIQUE(name, company_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id BIGSERIAL PRIMARY KEY,
		insider_id BIGINT NOT NULL REFERENCES insiders(insider_id),
		company_id BIGINT NOT NULL REFERENCES issuers(company_id),
		transaction_date DATE NOT NULL,
		transaction_code TEXT NOT NULL,
		security_title TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		shares NUMERIC NOT NULL,
		price_per_share NUMERIC NOT NULL,
		total_value NUMERIC NOT NULL,
		filing_date DATE NOT NULL,
		filing_path TEXT,
		filing_seq INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(transaction_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions(company_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_source ON transactions(filing_path, filing_seq)
`

// NewPostgresStore connects to PostgreSQL using a lib/pq connection string.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newSQLStore(ctx, db, dialect{name: "postgres", schema: postgresSchema, numbered: true})
}
