package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
	"budgetwatch/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is a durable ledger.Store.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between the realized update and concurrent reads.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const envelopeColumns = `id, category, type, period, estimated, realized, tolerance, created_at`

func (r *SQLiteRepository) InsertEnvelope(ctx context.Context, env core.Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("insert envelope: %w", core.ErrEmptyID)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO envelopes (`+envelopeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Category, string(env.Type), string(env.Period),
		env.Estimated, env.Realized, env.Tolerance,
		env.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert envelope %s: %w", env.ID, err)
	}

	slog.DebugContext(ctx, "Envelope saved to SQLite",
		"envelope_id", env.ID,
		"category", env.Category,
		"period", env.Period)
	return nil
}

func (r *SQLiteRepository) GetEnvelope(ctx context.Context, id string) (core.Envelope, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, core.ErrEnvelopeNotFound
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %s: %w", id, err)
	}
	return env, nil
}

func (r *SQLiteRepository) FindEnvelopes(ctx context.Context, key core.EnvelopeKey) ([]core.Envelope, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes
		 WHERE period = ? AND type = ? AND category = ?
		 ORDER BY seq`,
		string(key.Period), string(key.Type), key.Category)
	if err != nil {
		return nil, fmt.Errorf("find envelopes: %w", err)
	}
	return collectEnvelopes(rows)
}

func (r *SQLiteRepository) ListEnvelopes(ctx context.Context, periods ...core.Period) ([]core.Envelope, error) {
	where, args := periodClause(periods)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	return collectEnvelopes(rows)
}

// AppendTransaction stores tx and, when envelopeID is set, bumps that
// envelope's realized total inside the same database transaction.
func (r *SQLiteRepository) AppendTransaction(ctx context.Context, tx core.Transaction, envelopeID string) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer dbtx.Rollback()

	var envRef sql.NullString
	if envelopeID != "" {
		var realized decimal.Decimal
		err := dbtx.QueryRowContext(ctx, `SELECT realized FROM envelopes WHERE id = ?`, envelopeID).Scan(&realized)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrEnvelopeNotFound
		}
		if err != nil {
			return fmt.Errorf("read realized: %w", err)
		}
		if _, err := dbtx.ExecContext(ctx,
			`UPDATE envelopes SET realized = ? WHERE id = ?`,
			realized.Add(tx.Magnitude()), envelopeID); err != nil {
			return fmt.Errorf("update realized: %w", err)
		}
		envRef = sql.NullString{String: envelopeID, Valid: true}
	}

	if _, err := dbtx.ExecContext(ctx,
		`INSERT INTO transactions (id, description, signed_amount, category, type, period, date, source, envelope_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Description, tx.SignedAmount, tx.Category, string(tx.Type),
		string(tx.Period), tx.Date.String(), string(tx.Source), envRef); err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const transactionColumns = `id, description, signed_amount, category, type, period, date, source`

func (r *SQLiteRepository) ListTransactions(ctx context.Context, periods ...core.Period) ([]core.Transaction, error) {
	where, args := periodClause(periods)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *SQLiteRepository) TransactionsByKey(ctx context.Context, key core.EnvelopeKey) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE period = ? AND type = ? AND category = ?
		 ORDER BY seq`,
		string(key.Period), string(key.Type), key.Category)
	if err != nil {
		return nil, fmt.Errorf("transactions by key: %w", err)
	}
	return collectTransactions(rows)
}

func (r *SQLiteRepository) SetRealized(ctx context.Context, envelopeID string, realized decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE envelopes SET realized = ? WHERE id = ?`, realized, envelopeID)
	if err != nil {
		return fmt.Errorf("set realized: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set realized: %w", err)
	}
	if n == 0 {
		return core.ErrEnvelopeNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(s scanner) (core.Envelope, error) {
	var (
		env                      core.Envelope
		typ, period, createdAt   string
		estimated, realized, tol decimal.Decimal
	)
	if err := s.Scan(&env.ID, &env.Category, &typ, &period, &estimated, &realized, &tol, &createdAt); err != nil {
		return core.Envelope{}, err
	}
	env.Type = core.EntryType(typ)
	env.Period = core.Period(period)
	env.Estimated = estimated
	env.Realized = realized
	env.Tolerance = tol
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		env.CreatedAt = t
	}
	return env, nil
}

func collectEnvelopes(rows *sql.Rows) ([]core.Envelope, error) {
	defer rows.Close()
	var out []core.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return out, nil
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		var (
			tx                        core.Transaction
			typ, period, date, source string
		)
		if err := rows.Scan(&tx.ID, &tx.Description, &tx.SignedAmount, &tx.Category, &typ, &period, &date, &source); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = core.EntryType(typ)
		tx.Period = core.Period(period)
		tx.Source = core.Source(source)
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		tx.Date = d
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func periodClause(periods []core.Period) (string, []any) {
	if len(periods) == 0 {
		return "", nil
	}
	args := make([]any, len(periods))
	for i, p := range periods {
		args[i] = string(p)
	}
	return ` WHERE period IN (?` + strings.Repeat(", ?", len(periods)-1) + `)`, args
}

var _ ledger.Store = (*SQLiteRepository)(nil)
