// Package ledger defines the shared-expense domain model: a group of
// entities, ledgers inside the group and the transactions recorded in each
// ledger, together with the balance and settlement arithmetic over them.
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository layout.
const (
	GroupFile    = "group.toml"
	LedgersDir   = "ledgers"
	LedgerMarker = ".ledger.toml"
	FileExt      = ".toml"
)

// Entity is a person or party that can pay or owe.
type Entity struct {
	ID          uuid.UUID `toml:"id" json:"id"`
	DisplayName string    `toml:"display_name" json:"display_name"`
}

// Group is the set of entities sharing ledgers.
type Group struct {
	Entities []Entity `toml:"entities" json:"entities"`
}

// Entity looks up an entity by ID.
func (g Group) Entity(id uuid.UUID) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// DisplayName returns the entity's name, or the ID if it is not a member.
func (g Group) DisplayName(id uuid.UUID) string {
	if e, ok := g.Entity(id); ok && e.DisplayName != "" {
		return e.DisplayName
	}
	return id.String()
}

// Ledger is a named collection of transactions between participants.
type Ledger struct {
	ID           uuid.UUID   `toml:"id" json:"id"`
	DisplayName  string      `toml:"display_name" json:"display_name"`
	Participants []uuid.UUID `toml:"participants" json:"participants"`
	Notes        string      `toml:"notes,omitempty" json:"notes,omitempty"`

	// Dir is the ledger's folder name under LedgersDir. Not persisted in TOML.
	Dir string `toml:"-" json:"dir,omitempty"`
}

// HasParticipant reports whether id takes part in the ledger.
func (l Ledger) HasParticipant(id uuid.UUID) bool {
	for _, p := range l.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Transaction is a single payment split between entities. Its ID is the
// file name it is stored under, not a TOML key.
type Transaction struct {
	ID          uuid.UUID `toml:"-" json:"id"`
	Description string    `toml:"description" json:"description"`
	PaidBy      uuid.UUID `toml:"paid_by_entity" json:"paid_by_entity"`
	Currency    string    `toml:"currency_iso_4217" json:"currency_iso_4217"`
	Amount      float64   `toml:"amount" json:"amount"`
	Time        time.Time `toml:"transaction_datetime_rfc_3339" json:"transaction_datetime_rfc_3339"`
	Splits      []Split   `toml:"split_ratios" json:"split_ratios"`
}

// Split is one entity's fraction of a transaction.
type Split struct {
	EntityID uuid.UUID `toml:"entity_id" json:"entity_id"`
	Ratio    Ratio     `toml:"ratio" json:"ratio"`
}

// Settlement is a payment that clears debt between two entities.
type Settlement struct {
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
}

// TransactionFileName is the file a transaction is stored under.
func TransactionFileName(id uuid.UUID) string {
	return id.String() + FileExt
}

// ParseTransactionFileName extracts the transaction ID from a file name.
// Hidden files and names that are not "<uuid>.toml" are rejected.
func ParseTransactionFileName(name string) (uuid.UUID, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, FileExt) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSuffix(name, FileExt))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
