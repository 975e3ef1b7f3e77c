// Package app holds the session state of the ledger UI and implements the
// backend commands the page invokes.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/components"
	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
	"github.com/borrowchecker/borrowchecker/internal/store"
)

// Command names.
const (
	CmdListFiles          = "list_files_html"
	CmdRenderNavigation   = "render_navigation"
	CmdRenderHeader       = "render_header"
	CmdRenderLedgerHeader = "render_ledger_header"
	CmdRenderTransactions = "render_transactions"
	CmdRenderSettlements  = "render_settlements"
	CmdSwitchLedger       = "switch_ledger"
	CmdSwitchGroup        = "switch_group"
	CmdRefresh            = "refresh"
)

// Group is one repository of shared ledgers.
type Group struct {
	ID   string
	Name string
	Repo store.Repository

	// WatchDir is the working directory of a dir store, watched for edits.
	WatchDir string
}

// App is the per-process session: the selected group and ledger and the
// user the balances are computed for.
type App struct {
	groups []Group
	user   uuid.UUID
	log    *logging.Logger

	mu            sync.RWMutex
	currentGroup  string
	currentLedger uuid.UUID
}

// New creates an App over groups. The first group is selected.
func New(groups []Group, user uuid.UUID, log *logging.Logger) (*App, error) {
	if len(groups) == 0 {
		return nil, errors.New("app: at least one group is required")
	}
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.ID == "" || g.Repo == nil {
			return nil, fmt.Errorf("app: group %q needs an id and a repository", g.Name)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("app: duplicate group id %q", g.ID)
		}
		seen[g.ID] = true
	}
	if log == nil {
		log = logging.Nop()
	}
	return &App{
		groups:       groups,
		user:         user,
		log:          log.Component("app"),
		currentGroup: groups[0].ID,
	}, nil
}

// Register installs every command in reg.
func (a *App) Register(reg *bridge.Registry) error {
	commands := map[string]bridge.CommandFunc{
		CmdListFiles:          a.listFiles,
		CmdRenderNavigation:   a.renderNavigation,
		CmdRenderHeader:       a.renderHeader,
		CmdRenderLedgerHeader: a.renderLedgerHeader,
		CmdRenderTransactions: a.renderTransactions,
		CmdRenderSettlements:  a.renderSettlements,
		CmdSwitchLedger:       a.switchLedger,
		CmdSwitchGroup:        a.switchGroup,
		CmdRefresh:            a.refresh,
	}
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := reg.Register(name, commands[name]); err != nil {
			return err
		}
	}
	return nil
}

// User returns the user balances are computed for.
func (a *App) User() uuid.UUID {
	return a.user
}

// Groups returns the configured groups.
func (a *App) Groups() []Group {
	return a.groups
}

// Current returns the selected group and ledger. The ledger is uuid.Nil
// until one is chosen or resolved.
func (a *App) Current() (group string, ledgerID uuid.UUID) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentGroup, a.currentLedger
}

// Repo returns the repository of the selected group.
func (a *App) Repo() store.Repository {
	return a.group().Repo
}

// Close closes every repository.
func (a *App) Close() error {
	var errs []error
	for _, g := range a.groups {
		if err := g.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close group %s: %w", g.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) group() Group {
	a.mu.RLock()
	id := a.currentGroup
	a.mu.RUnlock()
	for _, g := range a.groups {
		if g.ID == id {
			return g
		}
	}
	return a.groups[0]
}

// currentLedgerOf resolves the selected ledger among ls, falling back to
// the first ledger. ok is false when there are no ledgers.
func (a *App) currentLedgerOf(ls []ledger.Ledger) (ledger.Ledger, bool) {
	if len(ls) == 0 {
		return ledger.Ledger{}, false
	}
	_, id := a.Current()
	for _, l := range ls {
		if l.ID == id {
			return l, true
		}
	}
	return ls[0], true
}

func (a *App) listFiles(ctx context.Context, _ json.RawMessage) (string, error) {
	files, err := a.Repo().Files(ctx)
	if err != nil {
		return "", err
	}
	return components.FileList(files)
}

func (a *App) navigationData(ctx context.Context) (components.NavigationData, error) {
	current := a.group()
	var data components.NavigationData
	for _, g := range a.groups {
		data.Groups = append(data.Groups, components.Option{
			ID:       g.ID,
			Name:     g.Name,
			Selected: g.ID == current.ID,
		})
	}

	ls, err := current.Repo.ListLedgers(ctx)
	if err != nil {
		return data, err
	}
	selected, _ := a.currentLedgerOf(ls)
	data.Ledgers = ledgerOptions(ls, selected.ID)
	return data, nil
}

func (a *App) renderNavigation(ctx context.Context, _ json.RawMessage) (string, error) {
	data, err := a.navigationData(ctx)
	if err != nil {
		return "", err
	}
	return components.Navigation(data)
}

func (a *App) renderHeader(ctx context.Context, _ json.RawMessage) (string, error) {
	repo := a.Repo()
	group, err := repo.LoadGroup(ctx)
	if err != nil {
		return "", err
	}

	data := components.HeaderData{}
	for _, e := range group.Entities {
		data.Members = append(data.Members, e.DisplayName)
	}
	if a.user != uuid.Nil {
		data.CurrentUser = group.DisplayName(a.user)
	}

	ls, err := repo.ListLedgers(ctx)
	if err != nil {
		return "", err
	}
	if l, ok := a.currentLedgerOf(ls); ok {
		data.CurrentLedger = l.DisplayName
	}
	return components.Header(data)
}

func (a *App) renderLedgerHeader(ctx context.Context, _ json.RawMessage) (string, error) {
	repo := a.Repo()
	ls, err := repo.ListLedgers(ctx)
	if err != nil {
		return "", err
	}
	l, ok := a.currentLedgerOf(ls)
	if !ok {
		return components.LedgerHeader(components.LedgerHeaderData{Currency: DefaultCurrency})
	}

	txs, err := repo.ListTransactions(ctx, l.ID)
	if err != nil {
		return "", err
	}
	currency := primaryCurrency(txs)
	balance := ledger.Total(ledger.Balances(ledger.ByCurrency(txs)[currency], a.user))

	return components.LedgerHeader(components.LedgerHeaderData{
		Ledgers:  ledgerOptions(ls, l.ID),
		Balance:  balance,
		Currency: currency,
		Notes:    l.Notes,
	})
}

func (a *App) renderTransactions(ctx context.Context, _ json.RawMessage) (string, error) {
	repo := a.Repo()
	ls, err := repo.ListLedgers(ctx)
	if err != nil {
		return "", err
	}
	l, ok := a.currentLedgerOf(ls)
	if !ok {
		return components.TransactionList(nil)
	}

	group, err := repo.LoadGroup(ctx)
	if err != nil {
		return "", err
	}
	txs, err := repo.ListTransactions(ctx, l.ID)
	if err != nil {
		return "", err
	}

	rows := make([]components.TransactionRowData, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, components.NewTransactionRow(tx, group, a.user))
	}
	return components.TransactionList(rows)
}

func (a *App) renderSettlements(ctx context.Context, _ json.RawMessage) (string, error) {
	repo := a.Repo()
	ls, err := repo.ListLedgers(ctx)
	if err != nil {
		return "", err
	}
	l, ok := a.currentLedgerOf(ls)
	if !ok {
		return components.Settlements(nil)
	}

	group, err := repo.LoadGroup(ctx)
	if err != nil {
		return "", err
	}
	txs, err := repo.ListTransactions(ctx, l.ID)
	if err != nil {
		return "", err
	}

	byCurrency := ledger.ByCurrency(txs)
	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	var views []components.SettlementView
	for _, c := range currencies {
		for _, s := range ledger.Settlements(ledger.NetPositions(byCurrency[c]), c) {
			views = append(views, components.SettlementView{
				From:     group.DisplayName(s.From),
				To:       group.DisplayName(s.To),
				Amount:   s.Amount,
				Currency: s.Currency,
			})
		}
	}
	return components.Settlements(views)
}

type switchLedgerArgs struct {
	LedgerID string `json:"ledger_id"`
}

// switchLedger selects a ledger of the current group and returns the
// navigation with the new selection.
func (a *App) switchLedger(ctx context.Context, args json.RawMessage) (string, error) {
	var in switchLedgerArgs
	if err := bridge.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	id, err := uuid.Parse(in.LedgerID)
	if err != nil {
		return "", fmt.Errorf("invalid ledger id %q", in.LedgerID)
	}

	ls, err := a.Repo().ListLedgers(ctx)
	if err != nil {
		return "", err
	}
	found := false
	for _, l := range ls {
		if l.ID == id {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("ledger %s: %w", id, store.ErrNotFound)
	}

	a.mu.Lock()
	a.currentLedger = id
	a.mu.Unlock()
	a.log.Debug().Str("ledger", id.String()).Msg("switched ledger")

	return a.renderNavigation(ctx, nil)
}

type switchGroupArgs struct {
	GroupID string `json:"group_id"`
}

// switchGroup selects a group and clears the ledger selection.
func (a *App) switchGroup(ctx context.Context, args json.RawMessage) (string, error) {
	var in switchGroupArgs
	if err := bridge.DecodeArgs(args, &in); err != nil {
		return "", err
	}

	known := false
	for _, g := range a.groups {
		if g.ID == in.GroupID {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("group %q: %w", in.GroupID, store.ErrNotFound)
	}

	a.mu.Lock()
	a.currentGroup = in.GroupID
	a.currentLedger = uuid.Nil
	a.mu.Unlock()
	a.log.Debug().Str("group", in.GroupID).Msg("switched group")

	return a.renderNavigation(ctx, nil)
}

// refresh pulls remote changes for the current group.
func (a *App) refresh(ctx context.Context, _ json.RawMessage) (string, error) {
	res, err := a.Repo().Refresh(ctx)
	if err != nil {
		return "", err
	}
	if res.HasChanges {
		a.log.Info().Str("group", a.group().ID).Msg("repository updated")
	}
	return a.renderNavigation(ctx, nil)
}

// DefaultCurrency is shown for ledgers without transactions.
const DefaultCurrency = "EUR"

// primaryCurrency returns the most used currency in txs, preferring the
// alphabetically first on ties.
func primaryCurrency(txs []ledger.Transaction) string {
	counts := make(map[string]int)
	for _, tx := range txs {
		counts[tx.Currency]++
	}
	best, bestN := DefaultCurrency, 0
	for c, n := range counts {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	return best
}

func ledgerOptions(ls []ledger.Ledger, selected uuid.UUID) []components.Option {
	opts := make([]components.Option, 0, len(ls))
	for _, l := range ls {
		opts = append(opts, components.Option{
			ID:       l.ID.String(),
			Name:     l.DisplayName,
			Selected: l.ID == selected,
		})
	}
	return opts
}
