// Package store persists groups, ledgers and transactions.
//
// Every backend implements Repository. The git and dir backends share the
// repository layout:
//
//	group.toml
//	ledgers/<folder>/.ledger.toml
//	ledgers/<folder>/<transaction-uuid>.toml
//
// Hidden files are never transactions, and folders without a marker are not
// ledgers.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
)

// Repository is storage-agnostic CRUD over the domain model. It returns
// data as stored, without validation.
type Repository interface {
	LoadGroup(ctx context.Context) (ledger.Group, error)
	SaveGroup(ctx context.Context, g ledger.Group) error

	ListLedgers(ctx context.Context) ([]ledger.Ledger, error)
	CreateLedger(ctx context.Context, l ledger.Ledger) (uuid.UUID, error)
	UpdateLedger(ctx context.Context, l ledger.Ledger) error
	DeleteLedger(ctx context.Context, id uuid.UUID) error

	ListTransactions(ctx context.Context, ledgerID uuid.UUID) ([]ledger.Transaction, error)
	CreateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) (uuid.UUID, error)
	UpdateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) error
	DeleteTransaction(ctx context.Context, ledgerID, txID uuid.UUID) error

	// Refresh pulls remote changes, if the backend has a remote.
	Refresh(ctx context.Context) (RefreshResult, error)

	// Files lists the documents the repository holds.
	Files(ctx context.Context) ([]File, error)

	Close() error
}

// RefreshResult reports the outcome of Refresh.
type RefreshResult struct {
	HasChanges bool `json:"has_changes"`
}

// FileKind classifies a stored document.
type FileKind string

const (
	KindGroup       FileKind = "group"
	KindLedger      FileKind = "ledger"
	KindTransaction FileKind = "transaction"
	KindOther       FileKind = "other"
)

// File is one stored document.
type File struct {
	Path string   `json:"path"`
	Size int64    `json:"size"`
	Kind FileKind `json:"kind"`
}

// newID returns a time-ordered ID for new records.
func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
