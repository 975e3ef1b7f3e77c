// Package components renders the HTML fragments returned by backend
// commands.
package components

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/store"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("components").Funcs(template.FuncMap{
	"money": Money,
}).ParseFS(templateFS, "templates/*.tmpl"))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Money formats an amount like "EUR 12.50" or "-EUR 12.50".
func Money(amount float64, currency string) string {
	if amount < 0 && math.Abs(amount) >= 0.005 {
		return fmt.Sprintf("-%s %.2f", currency, -amount)
	}
	return fmt.Sprintf("%s %.2f", currency, math.Abs(amount))
}

// Option is a selectable group or ledger.
type Option struct {
	ID       string
	Name     string
	Selected bool
}

// HeaderData feeds Header.
type HeaderData struct {
	CurrentLedger string
	CurrentUser   string
	Members       []string
}

// Header renders the top bar with the group members and current user.
func Header(d HeaderData) (string, error) {
	return render("header", d)
}

// NavigationData feeds Navigation.
type NavigationData struct {
	Groups  []Option
	Ledgers []Option
}

// Navigation renders the group and ledger switcher.
func Navigation(d NavigationData) (string, error) {
	return render("navigation", d)
}

// LedgerHeaderData feeds LedgerHeader.
type LedgerHeaderData struct {
	Ledgers  []Option
	Balance  float64
	Currency string
	Notes    string // Markdown
}

type ledgerHeaderView struct {
	LedgerHeaderData
	Notes template.HTML
}

// LedgerHeader renders the ledger picker, the ledger notes and the user's
// balance.
func LedgerHeader(d LedgerHeaderData) (string, error) {
	view := ledgerHeaderView{LedgerHeaderData: d}
	if d.Notes != "" {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(d.Notes), &buf); err != nil {
			return "", fmt.Errorf("render notes: %w", err)
		}
		// goldmark omits raw HTML unless configured as unsafe.
		view.Notes = template.HTML(buf.String())
	}
	return render("ledger_header", view)
}

// Status describes the user's position in one transaction.
type Status struct {
	Label string
	Color string
}

var (
	StatusBorrowed    = Status{Label: "YOU BORROWED", Color: "text-red-500"}
	StatusLent        = Status{Label: "YOU LENT", Color: "text-green-400"}
	StatusNotInvolved = Status{Label: "NOT INVOLVED", Color: "text-zinc-500"}
)

// TransactionRowData feeds TransactionRow.
type TransactionRowData struct {
	ID          string
	Description string
	Payer       string
	Total       float64
	Currency    string
	Date        string
	Status      Status
	UserAmount  float64
}

// NewTransactionRow computes the row for tx as seen by user. When the user
// paid, the row shows what the others owe; otherwise it shows the user's
// share.
func NewTransactionRow(tx ledger.Transaction, group ledger.Group, user uuid.UUID) TransactionRowData {
	row := TransactionRowData{
		ID:          tx.ID.String(),
		Description: tx.Description,
		Payer:       group.DisplayName(tx.PaidBy),
		Total:       tx.Amount,
		Currency:    tx.Currency,
		Date:        tx.Time.Format("2006-01-02"),
	}
	share := ledger.UserShare(tx, user)
	switch {
	case tx.PaidBy == user:
		row.Status = StatusLent
		row.UserAmount = tx.Amount - share
	case share != 0:
		row.Status = StatusBorrowed
		row.UserAmount = -share
	default:
		row.Status = StatusNotInvolved
	}
	return row
}

// TransactionRow renders one transaction.
func TransactionRow(d TransactionRowData) (string, error) {
	return render("transaction", d)
}

// TransactionList renders all rows, or an empty state.
func TransactionList(rows []TransactionRowData) (string, error) {
	return render("transactions", rows)
}

// SettlementView is a settlement with display names.
type SettlementView struct {
	From     string
	To       string
	Amount   float64
	Currency string
}

// Settlements renders who pays whom.
func Settlements(items []SettlementView) (string, error) {
	return render("settlements", items)
}

// FileList renders the repository documents.
func FileList(files []store.File) (string, error) {
	return render("files", files)
}

// ErrorLine renders an inline error.
func ErrorLine(msg string) (string, error) {
	return render("error", msg)
}
