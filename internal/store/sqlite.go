package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	-- Staged extraction output, one row per Form 4 table entry
	CREATE TABLE IF NOT EXISTS raw_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issuer_name TEXT NOT NULL,
		insider_name TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		transaction_code TEXT NOT NULL,
		security_title TEXT,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('Non-Derivative', 'Derivative')),
		shares TEXT NOT NULL,
		price_per_share TEXT NOT NULL,
		filing_path TEXT,
		filing_seq INTEGER NOT NULL DEFAULT 0,
		filing_date TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_raw_transactions_code ON raw_transactions(transaction_code);

	-- Companies
	CREATE TABLE IF NOT EXISTS issuers (
		company_id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_name TEXT NOT NULL UNIQUE
	);

	-- Reporting persons, scoped to one issuer
	CREATE TABLE IF NOT EXISTS insiders (
		insider_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		company_id INTEGER NOT NULL REFERENCES issuers(company_id),
		relationship TEXT NOT NULL DEFAULT 'Unknown',
		UNIQUE(name, company_id)
	);

	-- Normalized ledger
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
		insider_id INTEGER NOT NULL REFERENCES insiders(insider_id),
		company_id INTEGER NOT NULL REFERENCES issuers(company_id),
		transaction_date TEXT NOT NULL,
		transaction_code TEXT NOT NULL,
		security_title TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		shares TEXT NOT NULL,
		price_per_share TEXT NOT NULL,
		total_value TEXT NOT NULL,
		filing_date TEXT NOT NULL,
		filing_path TEXT,
		filing_seq INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(transaction_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions(company_id);
	-- One ledger row per source row, NULL paths never collide
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_source ON transactions(filing_path, filing_seq);
`

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, so concurrent
	// promoters serialize instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(ctx, db, dialect{name: "sqlite3", schema: sqliteSchema})
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}
