package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// DefaultBranch is the branch read when none is configured.
const DefaultBranch = "main"

// GitOptions configures a GitStore.
type GitOptions struct {
	Path   string
	Branch string // Defaults to DefaultBranch
	Remote string // Defaults to "origin"
	Retry  RetryConfig
}

// GitStore reads the committed state of a git repository. It never touches
// the working tree, so all writes return ErrUnsupported.
type GitStore struct {
	repo    *git.Repository
	path    string
	branch  string
	remote  string
	retry   RetryConfig
	breaker *CircuitBreaker
	layout  layout
	log     *logging.Logger

	mu sync.Mutex // serializes Refresh
}

// OpenGit opens the repository at opts.Path.
func OpenGit(opts GitOptions, log *logging.Logger) (*GitStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.Component("store.git")

	repo, err := git.PlainOpenWithOptions(opts.Path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &Error{Op: "open", Kind: KindRepoOpen, Path: opts.Path, Err: err}
	}
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = DefaultRetryConfig()
	}

	return &GitStore{
		repo:    repo,
		path:    opts.Path,
		branch:  opts.Branch,
		remote:  opts.Remote,
		retry:   opts.Retry,
		breaker: NewCircuitBreaker("git-fetch", DefaultCircuitBreakerConfig(), log),
		layout:  layout{log: log},
		log:     log,
	}, nil
}

// rootTree resolves refs/heads/<branch>, falling back to HEAD, and returns
// the tree of the commit it points to.
func (s *GitStore) rootTree(op string) (*gitTree, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if err != nil {
		head, headErr := s.repo.Head()
		if headErr != nil {
			return nil, &Error{Op: op, Kind: KindGit, Err: fmt.Errorf("failed to find %s or HEAD: %w", s.branch, headErr)}
		}
		s.log.Debug().Str("branch", s.branch).Str("head", head.Name().String()).Msg("branch not found, using HEAD")
		ref = head
	}

	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, &Error{Op: op, Kind: KindGit, Err: fmt.Errorf("failed to find commit %s: %w", ref.Hash(), err)}
	}
	root, err := commit.Tree()
	if err != nil {
		return nil, &Error{Op: op, Kind: KindGit, Err: fmt.Errorf("failed to get tree: %w", err)}
	}
	return &gitTree{root: root}, nil
}

// LoadGroup reads group.toml.
func (s *GitStore) LoadGroup(ctx context.Context) (ledger.Group, error) {
	t, err := s.rootTree("load_group")
	if err != nil {
		return ledger.Group{}, err
	}
	return s.layout.loadGroup(t)
}

// ListLedgers returns every ledger in the committed tree.
func (s *GitStore) ListLedgers(ctx context.Context) ([]ledger.Ledger, error) {
	t, err := s.rootTree("list_ledgers")
	if err != nil {
		return nil, err
	}
	return s.layout.listLedgers(ctx, t)
}

// ListTransactions returns the transactions of a ledger, newest first.
func (s *GitStore) ListTransactions(ctx context.Context, ledgerID uuid.UUID) ([]ledger.Transaction, error) {
	t, err := s.rootTree("list_transactions")
	if err != nil {
		return nil, err
	}
	led, err := s.layout.findLedger(ctx, t, "list_transactions", ledgerID)
	if err != nil {
		return nil, err
	}
	return s.layout.listTransactions(ctx, t, led)
}

// Files lists every file in the committed tree.
func (s *GitStore) Files(ctx context.Context) ([]File, error) {
	t, err := s.rootTree("files")
	if err != nil {
		return nil, err
	}
	return s.layout.files(ctx, t)
}

// Refresh fetches the branch from the remote into the local branch ref.
// A repository without the remote has nothing to refresh.
func (s *GitStore) Refresh(ctx context.Context) (RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.Remote(s.remote); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			s.log.Debug().Str("remote", s.remote).Msg("no remote configured, skipping refresh")
			return RefreshResult{}, nil
		}
		return RefreshResult{}, &Error{Op: "refresh", Kind: KindGit, Err: err}
	}

	ref := plumbing.NewBranchReferenceName(s.branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", ref, ref))

	return WithRetry(ctx, "git fetch", s.retry, s.log, func(ctx context.Context) (RefreshResult, error) {
		var result RefreshResult
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			err := s.repo.FetchContext(ctx, &git.FetchOptions{
				RemoteName: s.remote,
				RefSpecs:   []gitconfig.RefSpec{refSpec},
				Force:      true,
			})
			switch {
			case err == nil:
				result.HasChanges = true
				return nil
			case errors.Is(err, git.NoErrAlreadyUpToDate):
				return nil
			default:
				return &Error{Op: "refresh", Kind: KindGit, Path: s.remote, Err: err}
			}
		})
		if err == nil {
			s.log.Info().Str("remote", s.remote).Bool("changed", result.HasChanges).Msg("refreshed")
		}
		return result, err
	})
}

// Close releases nothing; go-git holds no open handles between calls.
func (s *GitStore) Close() error {
	return nil
}

func (s *GitStore) SaveGroup(ctx context.Context, g ledger.Group) error {
	return unsupported("save_group", "git")
}

func (s *GitStore) CreateLedger(ctx context.Context, l ledger.Ledger) (uuid.UUID, error) {
	return uuid.Nil, unsupported("create_ledger", "git")
}

func (s *GitStore) UpdateLedger(ctx context.Context, l ledger.Ledger) error {
	return unsupported("update_ledger", "git")
}

func (s *GitStore) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	return unsupported("delete_ledger", "git")
}

func (s *GitStore) CreateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) (uuid.UUID, error) {
	return uuid.Nil, unsupported("create_transaction", "git")
}

func (s *GitStore) UpdateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) error {
	return unsupported("update_transaction", "git")
}

func (s *GitStore) DeleteTransaction(ctx context.Context, ledgerID, txID uuid.UUID) error {
	return unsupported("delete_transaction", "git")
}

// gitTree adapts a commit tree to the tree interface.
type gitTree struct {
	root *object.Tree
}

func (t *gitTree) readDir(dir string) ([]treeEntry, error) {
	node := t.root
	if dir != "" {
		sub, err := t.root.Tree(dir)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, fmt.Errorf("%s: %w", dir, fs.ErrNotExist)
			}
			return nil, &Error{Op: "read_dir", Kind: KindInvalidObjectType, Path: dir, Err: err}
		}
		node = sub
	}

	out := make([]treeEntry, 0, len(node.Entries))
	for i := range node.Entries {
		e := &node.Entries[i]
		switch e.Mode {
		case filemode.Dir:
			out = append(out, treeEntry{name: e.Name, dir: true})
		case filemode.Regular, filemode.Executable, filemode.Deprecated:
			var size int64
			if f, err := node.TreeEntryFile(e); err == nil {
				size = f.Size
			}
			out = append(out, treeEntry{name: e.Name, size: size})
		default:
			// Symlinks and submodules are not documents.
		}
	}
	return out, nil
}

func (t *gitTree) readFile(name string) ([]byte, error) {
	f, err := t.root.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}
		return nil, err
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, &Error{Op: "read_file", Kind: KindGit, Path: name, Err: err}
	}
	return []byte(contents), nil
}
