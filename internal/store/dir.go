package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// DirStore reads and writes the repository layout in a plain directory.
type DirStore struct {
	fs     billy.Filesystem
	root   string
	layout layout
	log    *logging.Logger

	mu sync.RWMutex
}

// OpenDir opens (and creates, if needed) the directory at root.
func OpenDir(root string, log *logging.Logger) (*DirStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.Component("store.dir")

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, &Error{Op: "open", Kind: KindRepoOpen, Path: root, Err: err}
		}
	case err != nil:
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Path: root, Err: err}
	case !info.IsDir():
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Path: root, Err: fmt.Errorf("not a directory")}
	}

	return NewDirStore(osfs.New(root), root, log), nil
}

// NewDirStore wraps an existing filesystem, such as memfs in tests.
func NewDirStore(fsys billy.Filesystem, root string, log *logging.Logger) *DirStore {
	if log == nil {
		log = logging.Nop()
	}
	return &DirStore{
		fs:     fsys,
		root:   root,
		layout: layout{log: log},
		log:    log,
	}
}

// Root returns the directory the store was opened on.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) tree() tree {
	return billyTree{fs: s.fs}
}

func (s *DirStore) LoadGroup(ctx context.Context) (ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout.loadGroup(s.tree())
}

func (s *DirStore) SaveGroup(ctx context.Context, g ledger.Group) error {
	data, err := ledger.EncodeGroup(g)
	if err != nil {
		return &Error{Op: "save_group", Kind: KindDecode, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write("save_group", ledger.GroupFile, data)
}

func (s *DirStore) ListLedgers(ctx context.Context) ([]ledger.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout.listLedgers(ctx, s.tree())
}

// CreateLedger writes a new ledger folder named after the ledger. A missing
// ID is generated.
func (s *DirStore) CreateLedger(ctx context.Context, l ledger.Ledger) (uuid.UUID, error) {
	if l.ID == uuid.Nil {
		l.ID = newID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.layout.listLedgers(ctx, s.tree())
	if err != nil {
		return uuid.Nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		if e.ID == l.ID {
			return uuid.Nil, &Error{Op: "create_ledger", Kind: KindIO, Err: fmt.Errorf("ledger %s already exists", l.ID)}
		}
		taken[e.Dir] = true
	}

	l.Dir = folderName(l.DisplayName, l.ID, taken)
	if err := s.writeLedger("create_ledger", l); err != nil {
		return uuid.Nil, err
	}
	return l.ID, nil
}

func (s *DirStore) UpdateLedger(ctx context.Context, l ledger.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.layout.findLedger(ctx, s.tree(), "update_ledger", l.ID)
	if err != nil {
		return err
	}
	l.Dir = current.Dir
	return s.writeLedger("update_ledger", l)
}

// DeleteLedger removes the ledger folder including its transactions.
func (s *DirStore) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.layout.findLedger(ctx, s.tree(), "delete_ledger", id)
	if err != nil {
		return err
	}
	dir := path.Join(ledger.LedgersDir, current.Dir)
	if err := util.RemoveAll(s.fs, dir); err != nil {
		return &Error{Op: "delete_ledger", Kind: KindIO, Path: dir, Err: err}
	}
	s.log.Info().Str("ledger", current.DisplayName).Msg("ledger deleted")
	return nil
}

func (s *DirStore) ListTransactions(ctx context.Context, ledgerID uuid.UUID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	led, err := s.layout.findLedger(ctx, s.tree(), "list_transactions", ledgerID)
	if err != nil {
		return nil, err
	}
	return s.layout.listTransactions(ctx, s.tree(), led)
}

func (s *DirStore) CreateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) (uuid.UUID, error) {
	if tx.ID == uuid.Nil {
		tx.ID = newID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.layout.findLedger(ctx, s.tree(), "create_transaction", ledgerID)
	if err != nil {
		return uuid.Nil, err
	}
	p := path.Join(ledger.LedgersDir, led.Dir, ledger.TransactionFileName(tx.ID))
	if _, err := s.fs.Stat(p); err == nil {
		return uuid.Nil, &Error{Op: "create_transaction", Kind: KindIO, Path: p, Err: fmt.Errorf("transaction %s already exists", tx.ID)}
	}
	if err := s.writeTransaction("create_transaction", p, tx); err != nil {
		return uuid.Nil, err
	}
	return tx.ID, nil
}

func (s *DirStore) UpdateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.transactionPath(ctx, "update_transaction", ledgerID, tx.ID)
	if err != nil {
		return err
	}
	return s.writeTransaction("update_transaction", p, tx)
}

func (s *DirStore) DeleteTransaction(ctx context.Context, ledgerID, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.transactionPath(ctx, "delete_transaction", ledgerID, txID)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		return &Error{Op: "delete_transaction", Kind: KindIO, Path: p, Err: err}
	}
	return nil
}

// Refresh is a no-op: the directory is always current.
func (s *DirStore) Refresh(ctx context.Context) (RefreshResult, error) {
	return RefreshResult{}, nil
}

func (s *DirStore) Files(ctx context.Context) ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout.files(ctx, s.tree())
}

func (s *DirStore) Close() error {
	return nil
}

func (s *DirStore) transactionPath(ctx context.Context, op string, ledgerID, txID uuid.UUID) (string, error) {
	led, err := s.layout.findLedger(ctx, s.tree(), op, ledgerID)
	if err != nil {
		return "", err
	}
	p := path.Join(ledger.LedgersDir, led.Dir, ledger.TransactionFileName(txID))
	if _, err := s.fs.Stat(p); err != nil {
		return "", notFound(op, "transaction "+txID.String())
	}
	return p, nil
}

func (s *DirStore) writeLedger(op string, l ledger.Ledger) error {
	data, err := ledger.EncodeLedger(l)
	if err != nil {
		return &Error{Op: op, Kind: KindDecode, Err: err}
	}
	dir := path.Join(ledger.LedgersDir, l.Dir)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: op, Kind: KindIO, Path: dir, Err: err}
	}
	return s.write(op, path.Join(dir, ledger.LedgerMarker), data)
}

func (s *DirStore) writeTransaction(op, p string, tx ledger.Transaction) error {
	data, err := ledger.EncodeTransaction(tx)
	if err != nil {
		return &Error{Op: op, Kind: KindDecode, Path: p, Err: err}
	}
	return s.write(op, p, data)
}

// write replaces a file through a temporary file and rename.
func (s *DirStore) write(op, p string, data []byte) error {
	tmp := p + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return &Error{Op: op, Kind: KindIO, Path: p, Err: err}
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return &Error{Op: op, Kind: KindIO, Path: p, Err: err}
	}
	return nil
}

// folderName derives a filesystem-safe folder from a display name, falling
// back to the ID when the name is empty or taken.
func folderName(display string, id uuid.UUID, taken map[string]bool) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(display) {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" || taken[name] {
		return id.String()
	}
	return name
}

// billyTree adapts a billy filesystem to the tree interface.
type billyTree struct {
	fs billy.Filesystem
}

func (t billyTree) readDir(dir string) ([]treeEntry, error) {
	if dir == "" {
		dir = "."
	}
	infos, err := t.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]treeEntry, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Name(), ".tmp") {
			continue
		}
		out = append(out, treeEntry{name: info.Name(), dir: info.IsDir(), size: info.Size()})
	}
	return out, nil
}

func (t billyTree) readFile(name string) ([]byte, error) {
	return util.ReadFile(t.fs, name)
}
