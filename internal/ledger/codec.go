package ledger

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// DecodeGroup parses group.toml.
func DecodeGroup(data []byte) (Group, error) {
	var g Group
	if err := toml.Unmarshal(data, &g); err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}
	return g, nil
}

// DecodeLedger parses a .ledger.toml marker.
func DecodeLedger(data []byte) (Ledger, error) {
	var l Ledger
	if err := toml.Unmarshal(data, &l); err != nil {
		return Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}
	return l, nil
}

// DecodeTransaction parses a transaction file and assigns it id.
func DecodeTransaction(id uuid.UUID, data []byte) (Transaction, error) {
	var tx Transaction
	if err := toml.Unmarshal(data, &tx); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	tx.ID = id
	return tx, nil
}

// EncodeGroup renders a group as TOML.
func EncodeGroup(g Group) ([]byte, error) {
	return encode(g)
}

// EncodeLedger renders a ledger marker as TOML.
func EncodeLedger(l Ledger) ([]byte, error) {
	return encode(l)
}

// EncodeTransaction renders a transaction as TOML. The ID is not included.
func EncodeTransaction(tx Transaction) ([]byte, error) {
	return encode(tx)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}
