package ledger

import (
	"math"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// epsilon is the smallest amount treated as a real debt.
const epsilon = 0.005

// UserShare returns the user's part of the transaction amount, or 0 if the
// user is not in the split.
func UserShare(tx Transaction, user uuid.UUID) float64 {
	share := 0.0
	for _, s := range tx.Splits {
		if s.EntityID == user {
			share += tx.Amount * s.Ratio.Float64()
		}
	}
	return share
}

// Balances computes what every other entity owes the user across txs.
// Positive values mean they owe the user, negative values mean the user
// owes them. Currencies are not converted.
func Balances(txs []Transaction, user uuid.UUID) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64)
	for _, tx := range txs {
		if tx.PaidBy == user {
			for _, s := range tx.Splits {
				if s.EntityID == user {
					continue
				}
				out[s.EntityID] += tx.Amount * s.Ratio.Float64()
			}
			continue
		}
		if share := UserShare(tx, user); share != 0 {
			out[tx.PaidBy] -= share
		}
	}
	return out
}

// NetPositions returns each entity's net position across txs: what it paid
// minus what it consumed. Positive entities are owed money.
func NetPositions(txs []Transaction) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64)
	for _, tx := range txs {
		out[tx.PaidBy] += tx.Amount
		for _, s := range tx.Splits {
			out[s.EntityID] -= tx.Amount * s.Ratio.Float64()
		}
	}
	return out
}

// Total sums balances.
func Total(balances map[uuid.UUID]float64) float64 {
	total := 0.0
	for _, v := range balances {
		total += v
	}
	return total
}

// NormalizeSplits scales the ratios so they sum to exactly one. Splits whose
// ratios sum to zero are returned unchanged.
func NormalizeSplits(splits []Split) []Split {
	total := new(big.Rat)
	for _, s := range splits {
		total.Add(total, s.Ratio.Rat())
	}
	out := make([]Split, len(splits))
	copy(out, splits)
	if total.Sign() == 0 {
		return out
	}
	for i := range out {
		out[i].Ratio = Ratio{rat: new(big.Rat).Quo(out[i].Ratio.Rat(), total)}
	}
	return out
}

// ByCurrency groups transactions by currency code.
func ByCurrency(txs []Transaction) map[string][]Transaction {
	out := make(map[string][]Transaction)
	for _, tx := range txs {
		out[tx.Currency] = append(out[tx.Currency], tx)
	}
	return out
}

type position struct {
	id     uuid.UUID
	amount float64
}

// Settlements returns payments that clear the given net positions, matching
// the largest debtor with the largest creditor until all debts are within a
// cent. Results are deterministic for equal amounts.
func Settlements(net map[uuid.UUID]float64, currency string) []Settlement {
	var creditors, debtors []position
	for id, amount := range net {
		switch {
		case amount > epsilon:
			creditors = append(creditors, position{id, amount})
		case amount < -epsilon:
			debtors = append(debtors, position{id, -amount})
		}
	}
	sortPositions(creditors)
	sortPositions(debtors)

	var out []Settlement
	for len(creditors) > 0 && len(debtors) > 0 {
		c, d := &creditors[0], &debtors[0]
		pay := math.Min(c.amount, d.amount)
		out = append(out, Settlement{
			From:     d.id,
			To:       c.id,
			Amount:   math.Round(pay*100) / 100,
			Currency: currency,
		})
		c.amount -= pay
		d.amount -= pay
		if c.amount <= epsilon {
			creditors = creditors[1:]
		}
		if d.amount <= epsilon {
			debtors = debtors[1:]
		}
		sortPositions(creditors)
		sortPositions(debtors)
	}
	return out
}

func sortPositions(ps []position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].amount != ps[j].amount {
			return ps[i].amount > ps[j].amount
		}
		return ps[i].id.String() < ps[j].id.String()
	})
}
