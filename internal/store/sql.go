package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/models"
	"pulsereveal/pkg/utils"
)

// dialect captures the differences between the supported backends.
type dialect struct {
	name     string
	schema   string
	numbered bool // $1, $2 ... placeholders instead of ?
}

// SQLStore implements DataStore on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open opens a store for the given driver ("sqlite3" or "postgres"),
// waits for the database to answer and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, perrors.NewValidationError("store.driver", driver, "unsupported driver")
	}
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}

	retryCfg := utils.DefaultRetryConfig()
	retryCfg.MaxAttempts = 5
	retryCfg.InitialDelay = 200 * time.Millisecond
	if err := utils.Retry(ctx, retryCfg, func() error { return s.db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, perrors.NewStoreError("open", d.name, fmt.Errorf("%w: %v", perrors.ErrStoreUnavailable, err))
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Driver returns the backend name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// q rewrites ? placeholders for the active dialect.
func (s *SQLStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique-constraint failure
// from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ============================================================================
// Raw Ledger Methods
// ============================================================================

const insertRawSQL = `
	INSERT INTO raw_transactions (issuer_name, insider_name, transaction_date, transaction_code, security_title,
		transaction_type, shares, price_per_share, filing_path, filing_seq, filing_date, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AppendRaw writes the rows of one filing in a single transaction.
// Any failing row rolls back the whole batch.
func (s *SQLStore) AppendRaw(ctx context.Context, rows []models.RawTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	unit := rows[0].FilingPath

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perrors.NewStoreError("append_raw", unit, fmt.Errorf("%w: begin: %v", perrors.ErrStoreWrite, err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(insertRawSQL))
	if err != nil {
		return perrors.NewStoreError("append_raw", unit, fmt.Errorf("%w: prepare: %v", perrors.ErrStoreWrite, err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if !r.Kind.Valid() {
			return perrors.NewStoreError("append_raw", unit, fmt.Errorf("%w: invalid transaction kind %q", perrors.ErrStoreWrite, r.Kind))
		}
		_, err := stmt.ExecContext(ctx,
			r.IssuerName, r.InsiderName, r.TransactionDate, r.TransactionCode, nullString(r.SecurityTitle),
			string(r.Kind), r.Shares, r.PricePerShare, emptyAsNull(r.FilingPath), r.FilingSeq, nullString(r.FilingDate), now)
		if err != nil {
			return perrors.NewStoreError("append_raw", unit, fmt.Errorf("%w: insert: %v", perrors.ErrStoreWrite, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return perrors.NewStoreError("append_raw", unit, fmt.Errorf("%w: commit: %v", perrors.ErrStoreWrite, err))
	}

	return nil
}

// ListStaged returns staged rows whose code is eligible for promotion.
func (s *SQLStore) ListStaged(ctx context.Context) ([]models.RawTransaction, error) {
	placeholders := make([]string, len(models.RecognizedCodes))
	args := make([]interface{}, len(models.RecognizedCodes))
	for i, code := range models.RecognizedCodes {
		placeholders[i] = "?"
		args[i] = code
	}

	query := `
		SELECT id, issuer_name, insider_name, transaction_date, transaction_code, security_title,
			transaction_type, shares, price_per_share, filing_path, filing_seq, filing_date, created_at
		FROM raw_transactions
		WHERE transaction_code IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, perrors.NewStoreError("list_staged", "", err)
	}
	defer rows.Close()

	var staged []models.RawTransaction
	for rows.Next() {
		var r models.RawTransaction
		var title, path, filingDate sql.NullString
		var kind string
		if err := rows.Scan(&r.ID, &r.IssuerName, &r.InsiderName, &r.TransactionDate, &r.TransactionCode, &title,
			&kind, &r.Shares, &r.PricePerShare, &path, &r.FilingSeq, &filingDate, &r.CreatedAt); err != nil {
			return nil, perrors.NewStoreError("list_staged", "", fmt.Errorf("scan: %w", err))
		}
		r.Kind = models.TransactionKind(kind)
		r.SecurityTitle = stringPtr(title)
		r.FilingPath = path.String
		r.FilingDate = stringPtr(filingDate)
		staged = append(staged, r)
	}

	if err := rows.Err(); err != nil {
		return nil, perrors.NewStoreError("list_staged", "", err)
	}

	return staged, nil
}

// CountRaw returns the number of rows in the raw ledger, promoted or not.
func (s *SQLStore) CountRaw(ctx context.Context) (int, error) {
	return s.count(ctx, "raw_transactions")
}

// CountTransactions returns the number of normalized transactions.
func (s *SQLStore) CountTransactions(ctx context.Context) (int, error) {
	return s.count(ctx, "transactions")
}

func (s *SQLStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, perrors.NewStoreError("count", table, err)
	}
	return n, nil
}

// ============================================================================
// Promotion Methods
// ============================================================================

// Promote moves one staged row into the normalized tables atomically:
// delete the staged row, resolve issuer and insider, insert the transaction.
// When the staged row no longer exists the transaction is rolled back and
// Promoted is false. When the ledger already holds the same source row
// (same filing path and position) the staged copy is deleted and Duplicate
// is set.
func (s *SQLStore) Promote(ctx context.Context, raw models.RawTransaction, txn models.Transaction) (PromoteResult, error) {
	unit := "raw:" + strconv.FormatInt(raw.ID, 10)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: begin: %v", perrors.ErrStoreWrite, err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM raw_transactions WHERE id = ?`), raw.ID)
	if err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: delete staged: %v", perrors.ErrStoreWrite, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: rows affected: %v", perrors.ErrStoreWrite, err))
	}
	if affected == 0 {
		return PromoteResult{Promoted: false}, nil
	}

	companyID, err := s.resolveIssuerTx(ctx, tx, raw.IssuerName)
	if err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: resolve issuer: %v", perrors.ErrStoreWrite, err))
	}
	insiderID, err := s.resolveInsiderTx(ctx, tx, raw.InsiderName, companyID)
	if err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: resolve insider: %v", perrors.ErrStoreWrite, err))
	}

	txn.CompanyID = companyID
	txn.InsiderID = insiderID
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO transactions (insider_id, company_id, transaction_date, transaction_code, security_title,
			transaction_type, shares, price_per_share, total_value, filing_date, filing_path, filing_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING transaction_id`),
		txn.InsiderID, txn.CompanyID, txn.TransactionDate, txn.TransactionCode, txn.SecurityTitle,
		string(txn.TransactionType), txn.Shares, txn.PricePerShare, txn.TotalValue, txn.FilingDate,
		emptyAsNull(txn.FilingPath), txn.FilingSeq, txn.CreatedAt,
	).Scan(&txn.TransactionID)
	duplicate := errors.Is(err, sql.ErrNoRows)
	if err != nil && !duplicate {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: insert transaction: %v", perrors.ErrStoreWrite, err))
	}

	if err := tx.Commit(); err != nil {
		return PromoteResult{}, perrors.NewStoreError("promote", unit, fmt.Errorf("%w: commit: %v", perrors.ErrStoreWrite, err))
	}

	if duplicate {
		return PromoteResult{Duplicate: true}, nil
	}
	return PromoteResult{Promoted: true, Transaction: txn}, nil
}

// ============================================================================
// Identity Methods
// ============================================================================

// ResolveIssuer returns the company_id for name, creating the issuer if needed.
func (s *SQLStore) ResolveIssuer(ctx context.Context, companyName string) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.resolveIssuerTx(ctx, tx, companyName)
		return err
	})
	if err != nil {
		return 0, perrors.NewStoreError("resolve_issuer", companyName, err)
	}
	return id, nil
}

// ResolveInsider returns the insider_id for (name, companyID), creating the
// insider with an unknown relationship if needed.
func (s *SQLStore) ResolveInsider(ctx context.Context, name string, companyID int64) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.resolveInsiderTx(ctx, tx, name, companyID)
		return err
	})
	if err != nil {
		return 0, perrors.NewStoreError("resolve_insider", name, err)
	}
	return id, nil
}

func (s *SQLStore) resolveIssuerTx(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	return s.resolveIdentity(ctx, tx,
		`INSERT INTO issuers (company_name) VALUES (?) ON CONFLICT (company_name) DO NOTHING`,
		[]interface{}{name},
		`SELECT company_id FROM issuers WHERE company_name = ?`,
		[]interface{}{name},
	)
}

func (s *SQLStore) resolveInsiderTx(ctx context.Context, tx *sql.Tx, name string, companyID int64) (int64, error) {
	return s.resolveIdentity(ctx, tx,
		`INSERT INTO insiders (name, company_id, relationship) VALUES (?, ?, ?) ON CONFLICT (name, company_id) DO NOTHING`,
		[]interface{}{name, companyID, models.UnknownRelationship},
		`SELECT insider_id FROM insiders WHERE name = ? AND company_id = ?`,
		[]interface{}{name, companyID},
	)
}

// resolveIdentity is insert-if-absent then lookup. The insert runs inside a
// savepoint so that a unique violation raised by a concurrent writer can be
// rolled back without aborting the enclosing transaction, and the lookup
// then returns the winner's id.
func (s *SQLStore) resolveIdentity(ctx context.Context, tx *sql.Tx, insert string, insertArgs []interface{}, lookup string, lookupArgs []interface{}) (int64, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT resolve_identity"); err != nil {
		return 0, fmt.Errorf("savepoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(insert), insertArgs...); err != nil {
		if !isUniqueViolation(err) {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT resolve_identity"); err != nil {
			return 0, fmt.Errorf("rollback to savepoint: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT resolve_identity"); err != nil {
		return 0, fmt.Errorf("release savepoint: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, s.q(lookup), lookupArgs...).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup: %w", err)
	}
	return id, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Read Methods
// ============================================================================

// ClusterRows returns one row per normalized transaction dated within the range.
func (s *SQLStore) ClusterRows(ctx context.Context, dateRange DateRange) ([]models.ClusterRow, error) {
	query := `
		SELECT c.company_name, i.name, CAST(t.transaction_date AS TEXT), t.total_value
		FROM transactions t
		JOIN insiders i ON i.insider_id = t.insider_id
		JOIN issuers c ON c.company_id = t.company_id
		WHERE 1=1`
	var args []interface{}
	query, args = appendDateRange(query, args, dateRange)
	query += " ORDER BY t.transaction_date DESC, t.transaction_id ASC"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, perrors.NewStoreError("cluster_rows", dateRange.From+".."+dateRange.To, err)
	}
	defer rows.Close()

	var out []models.ClusterRow
	for rows.Next() {
		var r models.ClusterRow
		if err := rows.Scan(&r.Company, &r.Insider, &r.TransactionDate, &r.TotalValue); err != nil {
			return nil, perrors.NewStoreError("cluster_rows", "", fmt.Errorf("scan: %w", err))
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// ListTransactions returns the joined transaction view, newest first.
func (s *SQLStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.TransactionView, error) {
	query := `
		SELECT t.transaction_id, t.insider_id, t.company_id, CAST(t.transaction_date AS TEXT), t.transaction_code,
			t.security_title, t.transaction_type, t.shares, t.price_per_share, t.total_value,
			CAST(t.filing_date AS TEXT), t.filing_path, t.filing_seq, t.created_at, i.name, c.company_name
		FROM transactions t
		JOIN insiders i ON i.insider_id = t.insider_id
		JOIN issuers c ON c.company_id = t.company_id
		WHERE 1=1`
	var args []interface{}

	query, args = appendDateRange(query, args, filter.DateRange)
	if filter.Company != "" {
		query += " AND LOWER(c.company_name) LIKE ?"
		args = append(args, "%"+strings.ToLower(filter.Company)+"%")
	}
	if filter.Insider != "" {
		query += " AND LOWER(i.name) LIKE ?"
		args = append(args, "%"+strings.ToLower(filter.Insider)+"%")
	}
	if filter.Code != "" {
		query += " AND t.transaction_code = ?"
		args = append(args, filter.Code)
	}

	query += " ORDER BY t.transaction_date DESC, t.transaction_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, perrors.NewStoreError("list_transactions", "", err)
	}
	defer rows.Close()

	var views []models.TransactionView
	for rows.Next() {
		var v models.TransactionView
		var txType string
		var path sql.NullString
		if err := rows.Scan(&v.TransactionID, &v.InsiderID, &v.CompanyID, &v.TransactionDate, &v.TransactionCode,
			&v.SecurityTitle, &txType, &v.Shares, &v.PricePerShare, &v.TotalValue,
			&v.FilingDate, &path, &v.FilingSeq, &v.CreatedAt, &v.InsiderName, &v.CompanyName); err != nil {
			return nil, perrors.NewStoreError("list_transactions", "", fmt.Errorf("scan: %w", err))
		}
		v.TransactionType = models.TransactionType(txType)
		v.FilingPath = path.String
		views = append(views, v)
	}

	return views, rows.Err()
}

func appendDateRange(query string, args []interface{}, r DateRange) (string, []interface{}) {
	if r.From != "" {
		query += " AND t.transaction_date >= ?"
		args = append(args, r.From)
	}
	if r.To != "" {
		query += " AND t.transaction_date <= ?"
		args = append(args, r.To)
	}
	return query, args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
