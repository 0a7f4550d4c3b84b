// Package postgres provides a settlement ledger backed by PostgreSQL.
// The UTI primary key makes the idempotency gate an insert-if-absent, and
// the ledger doubles as the durable record for end-of-day reconciliation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"golocallink/pkg/gateway"
	"golocallink/pkg/txn"
)

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DefaultConfig returns the default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "golocallink",
		SSLMode:  "disable",
	}
}

// Ledger records settled transactions in a settlements table.
type Ledger struct {
	db *sql.DB
}

// NewLedger opens a connection pool, verifies it and creates the
// settlements table if missing.
func NewLedger(cfg Config) (*Ledger, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: init table: %w", err)
	}
	return l, nil
}

func (l *Ledger) initTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			uti          TEXT PRIMARY KEY,
			order_ref    TEXT NOT NULL,
			amount_minor BIGINT NOT NULL,
			card_bin     TEXT,
			card_last4   TEXT,
			auth_code    TEXT,
			settled_at   TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// MarkSettled inserts the settlement; the UTI primary key turns a replay
// into a no-op. Exactly one caller per UTI observes created == true.
func (l *Ledger) MarkSettled(ctx context.Context, snap txn.SettlementSnapshot) (bool, error) {
	settledAt := snap.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}

	var bin, last4, authCode sql.NullString
	if snap.Card != nil {
		bin = sql.NullString{String: snap.Card.BIN, Valid: snap.Card.BIN != ""}
		last4 = sql.NullString{String: snap.Card.Last4, Valid: snap.Card.Last4 != ""}
		authCode = sql.NullString{String: snap.Card.AuthCode, Valid: snap.Card.AuthCode != ""}
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO settlements (uti, order_ref, amount_minor, card_bin, card_last4, auth_code, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uti) DO NOTHING`,
		snap.UTI, snap.OrderRef, snap.AmountMinor, bin, last4, authCode, settledAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: mark settled: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: mark settled: %w", err)
	}
	return rows == 1, nil
}

// Get returns the recorded settlement for a UTI.
func (l *Ledger) Get(ctx context.Context, uti string) (txn.SettlementSnapshot, bool, error) {
	var snap txn.SettlementSnapshot
	var bin, last4, authCode sql.NullString

	err := l.db.QueryRowContext(ctx, `
		SELECT uti, order_ref, amount_minor, card_bin, card_last4, auth_code, settled_at
		FROM settlements WHERE uti = $1`, uti,
	).Scan(&snap.UTI, &snap.OrderRef, &snap.AmountMinor, &bin, &last4, &authCode, &snap.SettledAt)
	if err == sql.ErrNoRows {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("postgres: get settlement: %w", err)
	}

	if bin.Valid || last4.Valid || authCode.Valid {
		snap.Card = &gateway.CardMeta{
			BIN:      bin.String,
			Last4:    last4.String,
			AuthCode: authCode.String,
		}
	}
	return snap, true, nil
}

// Ping verifies the connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
