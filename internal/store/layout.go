package store

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// treeEntry is one child of a directory in a repository tree.
type treeEntry struct {
	name string
	dir  bool
	size int64
}

// tree is a read-only view of a repository snapshot. Paths are slash
// separated and relative to the repository root; "" is the root.
type tree interface {
	readDir(dir string) ([]treeEntry, error)
	readFile(name string) ([]byte, error)
}

// layout implements the shared read path over a tree.
type layout struct {
	log *logging.Logger
}

func (l layout) loadGroup(t tree) (ledger.Group, error) {
	data, err := t.readFile(ledger.GroupFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ledger.Group{}, notFound("load_group", ledger.GroupFile)
		}
		return ledger.Group{}, &Error{Op: "load_group", Kind: KindIO, Path: ledger.GroupFile, Err: err}
	}
	g, err := ledger.DecodeGroup(data)
	if err != nil {
		return ledger.Group{}, &Error{Op: "load_group", Kind: KindDecode, Path: ledger.GroupFile, Err: err}
	}
	return g, nil
}

// listLedgers scans LedgersDir for folders carrying a marker. Markers that
// fail to decode are logged and skipped. A missing LedgersDir means no
// ledgers.
func (l layout) listLedgers(ctx context.Context, t tree) ([]ledger.Ledger, error) {
	entries, err := t.readDir(ledger.LedgersDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list_ledgers", Kind: KindIO, Path: ledger.LedgersDir, Err: err}
	}

	var out []ledger.Ledger
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.dir {
			l.log.Debug().Str("entry", e.name).Msg("skipping non-folder ledger entry")
			continue
		}
		markerPath := path.Join(ledger.LedgersDir, e.name, ledger.LedgerMarker)
		data, err := t.readFile(markerPath)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				l.log.Warn().Str("path", markerPath).Err(err).Msg("failed to read ledger marker")
			}
			continue
		}
		led, err := ledger.DecodeLedger(data)
		if err != nil {
			l.log.Warn().Str("path", markerPath).Err(err).Msg("failed to parse ledger marker")
			continue
		}
		led.Dir = e.name
		out = append(out, led)
	}
	sortLedgers(out)
	return out, nil
}

func (l layout) findLedger(ctx context.Context, t tree, op string, id uuid.UUID) (ledger.Ledger, error) {
	ledgers, err := l.listLedgers(ctx, t)
	if err != nil {
		return ledger.Ledger{}, err
	}
	for _, led := range ledgers {
		if led.ID == id {
			return led, nil
		}
	}
	return ledger.Ledger{}, notFound(op, "ledger "+id.String())
}

// listTransactions reads every non-hidden transaction file of a ledger.
// Undecodable files are logged and skipped.
func (l layout) listTransactions(ctx context.Context, t tree, led ledger.Ledger) ([]ledger.Transaction, error) {
	dir := path.Join(ledger.LedgersDir, led.Dir)
	entries, err := t.readDir(dir)
	if err != nil {
		return nil, &Error{Op: "list_transactions", Kind: KindIO, Path: dir, Err: err}
	}

	var out []ledger.Transaction
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(e.name, ".") {
			continue
		}
		if e.dir {
			l.log.Debug().Str("ledger", led.DisplayName).Str("entry", e.name).Msg("skipping folder in ledger")
			continue
		}
		id, ok := ledger.ParseTransactionFileName(e.name)
		if !ok {
			l.log.Debug().Str("ledger", led.DisplayName).Str("entry", e.name).Msg("skipping non-transaction file")
			continue
		}
		p := path.Join(dir, e.name)
		data, err := t.readFile(p)
		if err != nil {
			l.log.Warn().Str("path", p).Err(err).Msg("failed to read transaction")
			continue
		}
		tx, err := ledger.DecodeTransaction(id, data)
		if err != nil {
			l.log.Warn().Str("path", p).Err(err).Msg("failed to parse transaction")
			continue
		}
		out = append(out, tx)
	}
	sortTransactions(out)
	return out, nil
}

// files walks the whole tree, skipping hidden folders such as .git.
func (l layout) files(ctx context.Context, t tree) ([]File, error) {
	var out []File
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := t.readDir(dir)
		if err != nil {
			return &Error{Op: "files", Kind: KindIO, Path: dir, Err: err}
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := path.Join(dir, e.name)
			if e.dir {
				if strings.HasPrefix(e.name, ".") {
					continue
				}
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			out = append(out, File{Path: p, Size: e.size, Kind: classify(p)})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// classify determines a file's kind from its position in the layout.
func classify(p string) FileKind {
	if p == ledger.GroupFile {
		return KindGroup
	}
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != ledger.LedgersDir {
		return KindOther
	}
	if parts[2] == ledger.LedgerMarker {
		return KindLedger
	}
	if _, ok := ledger.ParseTransactionFileName(parts[2]); ok {
		return KindTransaction
	}
	return KindOther
}

func sortLedgers(ls []ledger.Ledger) {
	sort.SliceStable(ls, func(i, j int) bool {
		return strings.ToLower(ls[i].DisplayName) < strings.ToLower(ls[j].DisplayName)
	})
}

// sortTransactions orders newest first.
func sortTransactions(txs []ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Time.After(txs[j].Time)
	})
}
