package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// Dialect selects the SQL driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledgers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		ledger_id TEXT NOT NULL REFERENCES ledgers(id) ON DELETE CASCADE,
		entity_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (ledger_id, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL REFERENCES ledgers(id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		paid_by TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		occurred_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS splits (
		transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		entity_id TEXT NOT NULL,
		ratio TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (transaction_id, entity_id)
	)`,
}

// SQLOptions configures a SQLStore.
type SQLOptions struct {
	Dialect Dialect
	// DSN is a file path for sqlite or a connection string for postgres.
	// Postgres falls back to DATABASE_URL.
	DSN string
	// BaseDir resolves relative sqlite paths.
	BaseDir string
}

// SQLStore keeps the domain model in SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *logging.Logger
}

// OpenSQL opens the database and creates the schema.
func OpenSQL(ctx context.Context, opts SQLOptions, log *logging.Logger) (*SQLStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.Component("store.sql")

	dsn := opts.DSN
	switch opts.Dialect {
	case DialectSQLite:
		if dsn == "" {
			dsn = "borrowchecker.db"
		}
		if dsn != ":memory:" && !filepath.IsAbs(dsn) && opts.BaseDir != "" {
			dsn = filepath.Join(opts.BaseDir, dsn)
		}
	case DialectPostgres:
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, &Error{Op: "open", Kind: KindRepoOpen, Err: fmt.Errorf("postgres store: database connection required (set store.dsn or DATABASE_URL)")}
		}
	default:
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Err: fmt.Errorf("unknown sql dialect %q", opts.Dialect)}
	}

	db, err := sql.Open(string(opts.Dialect), dsn)
	if err != nil {
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Err: err}
	}

	if opts.Dialect == DialectSQLite {
		// One connection keeps foreign keys and :memory: databases consistent.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Err: fmt.Errorf("failed to connect: %w", err)}
	}

	s := &SQLStore{db: db, dialect: opts.Dialect, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("dialect", string(opts.Dialect)).Msg("database ready")
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.dialect == DialectSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return s.dbErr("migrate", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.dbErr("migrate", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindDatabase, Err: err}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q execer, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

// inTx runs fn in a database transaction.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dbErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var storeErr *Error
		if errors.As(err, &storeErr) {
			return err
		}
		return s.dbErr(op, err)
	}
	return s.dbErr(op, tx.Commit())
}

func (s *SQLStore) LoadGroup(ctx context.Context) (ledger.Group, error) {
	rows, err := s.query(ctx, s.db, "SELECT id, display_name FROM entities ORDER BY position")
	if err != nil {
		return ledger.Group{}, s.dbErr("load_group", err)
	}
	defer rows.Close()

	var g ledger.Group
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return ledger.Group{}, s.dbErr("load_group", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return ledger.Group{}, &Error{Op: "load_group", Kind: KindDecode, Err: err}
		}
		g.Entities = append(g.Entities, ledger.Entity{ID: parsed, DisplayName: name})
	}
	if err := rows.Err(); err != nil {
		return ledger.Group{}, s.dbErr("load_group", err)
	}
	if len(g.Entities) == 0 {
		return ledger.Group{}, notFound("load_group", "group")
	}
	return g, nil
}

// SaveGroup replaces all entities.
func (s *SQLStore) SaveGroup(ctx context.Context, g ledger.Group) error {
	return s.inTx(ctx, "save_group", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM entities"); err != nil {
			return err
		}
		for i, e := range g.Entities {
			if _, err := s.exec(ctx, tx, "INSERT INTO entities (id, display_name, position) VALUES (?, ?, ?)",
				e.ID.String(), e.DisplayName, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListLedgers(ctx context.Context) ([]ledger.Ledger, error) {
	rows, err := s.query(ctx, s.db, "SELECT id, display_name, notes FROM ledgers")
	if err != nil {
		return nil, s.dbErr("list_ledgers", err)
	}
	var out []ledger.Ledger
	for rows.Next() {
		var id, name, notes string
		if err := rows.Scan(&id, &name, &notes); err != nil {
			rows.Close()
			return nil, s.dbErr("list_ledgers", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			s.log.Warn().Str("id", id).Err(err).Msg("skipping ledger with invalid id")
			continue
		}
		out = append(out, ledger.Ledger{ID: parsed, DisplayName: name, Notes: notes})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.dbErr("list_ledgers", err)
	}

	for i := range out {
		participants, err := s.participants(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Participants = participants
	}
	sortLedgers(out)
	return out, nil
}

func (s *SQLStore) participants(ctx context.Context, ledgerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.query(ctx, s.db, "SELECT entity_id FROM participants WHERE ledger_id = ? ORDER BY position", ledgerID.String())
	if err != nil {
		return nil, s.dbErr("list_ledgers", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.dbErr("list_ledgers", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, &Error{Op: "list_ledgers", Kind: KindDecode, Err: err}
		}
		out = append(out, parsed)
	}
	return out, s.dbErr("list_ledgers", rows.Err())
}

func (s *SQLStore) CreateLedger(ctx context.Context, l ledger.Ledger) (uuid.UUID, error) {
	if l.ID == uuid.Nil {
		l.ID = newID()
	}
	err := s.inTx(ctx, "create_ledger", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "INSERT INTO ledgers (id, display_name, notes) VALUES (?, ?, ?)",
			l.ID.String(), l.DisplayName, l.Notes); err != nil {
			return err
		}
		return s.writeParticipants(ctx, tx, l)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return l.ID, nil
}

func (s *SQLStore) UpdateLedger(ctx context.Context, l ledger.Ledger) error {
	return s.inTx(ctx, "update_ledger", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, "UPDATE ledgers SET display_name = ?, notes = ? WHERE id = ?",
			l.DisplayName, l.Notes, l.ID.String())
		if err != nil {
			return err
		}
		if err := requireRow(res, "update_ledger", "ledger "+l.ID.String()); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, "DELETE FROM participants WHERE ledger_id = ?", l.ID.String()); err != nil {
			return err
		}
		return s.writeParticipants(ctx, tx, l)
	})
}

func (s *SQLStore) writeParticipants(ctx context.Context, tx *sql.Tx, l ledger.Ledger) error {
	for i, p := range l.Participants {
		if _, err := s.exec(ctx, tx, "INSERT INTO participants (ledger_id, entity_id, position) VALUES (?, ?, ?)",
			l.ID.String(), p.String(), i); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLedger removes a ledger with its participants and transactions.
func (s *SQLStore) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, "delete_ledger", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM splits WHERE transaction_id IN (SELECT id FROM transactions WHERE ledger_id = ?)", id.String()); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, "DELETE FROM transactions WHERE ledger_id = ?", id.String()); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, "DELETE FROM participants WHERE ledger_id = ?", id.String()); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, "DELETE FROM ledgers WHERE id = ?", id.String())
		if err != nil {
			return err
		}
		return requireRow(res, "delete_ledger", "ledger "+id.String())
	})
}

func (s *SQLStore) ledgerExists(ctx context.Context, q execer, op string, id uuid.UUID) error {
	rows, err := s.query(ctx, q, "SELECT 1 FROM ledgers WHERE id = ?", id.String())
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return notFound(op, "ledger "+id.String())
	}
	return nil
}

func (s *SQLStore) ListTransactions(ctx context.Context, ledgerID uuid.UUID) ([]ledger.Transaction, error) {
	if err := s.ledgerExists(ctx, s.db, "list_transactions", ledgerID); err != nil {
		var storeErr *Error
		if errors.As(err, &storeErr) {
			return nil, err
		}
		return nil, s.dbErr("list_transactions", err)
	}

	rows, err := s.query(ctx, s.db,
		"SELECT id, description, paid_by, currency, amount, occurred_at FROM transactions WHERE ledger_id = ?",
		ledgerID.String())
	if err != nil {
		return nil, s.dbErr("list_transactions", err)
	}
	var out []ledger.Transaction
	for rows.Next() {
		var id, desc, paidBy, currency, occurred string
		var amount float64
		if err := rows.Scan(&id, &desc, &paidBy, &currency, &amount, &occurred); err != nil {
			rows.Close()
			return nil, s.dbErr("list_transactions", err)
		}
		tx := ledger.Transaction{Description: desc, Currency: currency, Amount: amount}
		var perr error
		if tx.ID, perr = uuid.Parse(id); perr == nil {
			if tx.PaidBy, perr = uuid.Parse(paidBy); perr == nil {
				tx.Time, perr = time.Parse(time.RFC3339Nano, occurred)
			}
		}
		if perr != nil {
			s.log.Warn().Str("id", id).Err(perr).Msg("skipping undecodable transaction")
			continue
		}
		out = append(out, tx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.dbErr("list_transactions", err)
	}

	for i := range out {
		splits, err := s.splits(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Splits = splits
	}
	sortTransactions(out)
	return out, nil
}

func (s *SQLStore) splits(ctx context.Context, txID uuid.UUID) ([]ledger.Split, error) {
	rows, err := s.query(ctx, s.db, "SELECT entity_id, ratio FROM splits WHERE transaction_id = ? ORDER BY position", txID.String())
	if err != nil {
		return nil, s.dbErr("list_transactions", err)
	}
	defer rows.Close()

	var out []ledger.Split
	for rows.Next() {
		var entity, ratio string
		if err := rows.Scan(&entity, &ratio); err != nil {
			return nil, s.dbErr("list_transactions", err)
		}
		id, err := uuid.Parse(entity)
		if err != nil {
			return nil, &Error{Op: "list_transactions", Kind: KindDecode, Err: err}
		}
		r, err := ledger.ParseRatio(ratio)
		if err != nil {
			return nil, &Error{Op: "list_transactions", Kind: KindDecode, Err: err}
		}
		out = append(out, ledger.Split{EntityID: id, Ratio: r})
	}
	return out, s.dbErr("list_transactions", rows.Err())
}

func (s *SQLStore) CreateTransaction(ctx context.Context, ledgerID uuid.UUID, t ledger.Transaction) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = newID()
	}
	err := s.inTx(ctx, "create_transaction", func(tx *sql.Tx) error {
		if err := s.ledgerExists(ctx, tx, "create_transaction", ledgerID); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx,
			"INSERT INTO transactions (id, ledger_id, description, paid_by, currency, amount, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			t.ID.String(), ledgerID.String(), t.Description, t.PaidBy.String(), t.Currency, t.Amount,
			t.Time.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		return s.writeSplits(ctx, tx, t)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

func (s *SQLStore) UpdateTransaction(ctx context.Context, ledgerID uuid.UUID, t ledger.Transaction) error {
	return s.inTx(ctx, "update_transaction", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			"UPDATE transactions SET description = ?, paid_by = ?, currency = ?, amount = ?, occurred_at = ? WHERE id = ? AND ledger_id = ?",
			t.Description, t.PaidBy.String(), t.Currency, t.Amount, t.Time.UTC().Format(time.RFC3339Nano),
			t.ID.String(), ledgerID.String())
		if err != nil {
			return err
		}
		if err := requireRow(res, "update_transaction", "transaction "+t.ID.String()); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, "DELETE FROM splits WHERE transaction_id = ?", t.ID.String()); err != nil {
			return err
		}
		return s.writeSplits(ctx, tx, t)
	})
}

func (s *SQLStore) writeSplits(ctx context.Context, tx *sql.Tx, t ledger.Transaction) error {
	for i, sp := range t.Splits {
		if _, err := s.exec(ctx, tx, "INSERT INTO splits (transaction_id, entity_id, ratio, position) VALUES (?, ?, ?, ?)",
			t.ID.String(), sp.EntityID.String(), sp.Ratio.String(), i); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) DeleteTransaction(ctx context.Context, ledgerID, txID uuid.UUID) error {
	return s.inTx(ctx, "delete_transaction", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM splits WHERE transaction_id = ?", txID.String()); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, "DELETE FROM transactions WHERE id = ? AND ledger_id = ?", txID.String(), ledgerID.String())
		if err != nil {
			return err
		}
		return requireRow(res, "delete_transaction", "transaction "+txID.String())
	})
}

// Refresh is a no-op: the database is always current.
func (s *SQLStore) Refresh(ctx context.Context) (RefreshResult, error) {
	return RefreshResult{}, nil
}

// Files lists the tables as virtual documents with their row counts as size.
func (s *SQLStore) Files(ctx context.Context) ([]File, error) {
	tables := []struct {
		name string
		kind FileKind
	}{
		{"entities", KindGroup},
		{"ledgers", KindLedger},
		{"participants", KindOther},
		{"splits", KindOther},
		{"transactions", KindTransaction},
	}
	out := make([]File, 0, len(tables))
	for _, t := range tables {
		var n int64
		// Table names are constants above.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
			return nil, s.dbErr("files", err)
		}
		out = append(out, File{Path: string(s.dialect) + ":" + t.name, Size: n, Kind: t.kind})
	}
	return out, nil
}

// Close releases the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func requireRow(res sql.Result, op, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(op, what)
	}
	return nil
}
