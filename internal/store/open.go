package store

import (
	"context"
	"fmt"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// Backend types.
const (
	TypeGit      = "git"
	TypeDir      = "dir"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Type   string
	Path   string // Repository or directory path; sqlite base directory
	Branch string
	Remote string
	DSN    string
	Retry  RetryConfig // git fetch retries; zero means DefaultRetryConfig
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options, log *logging.Logger) (Repository, error) {
	switch opts.Type {
	case "", TypeGit:
		return OpenGit(GitOptions{Path: opts.Path, Branch: opts.Branch, Remote: opts.Remote, Retry: opts.Retry}, log)
	case TypeDir:
		return OpenDir(opts.Path, log)
	case TypeSQLite:
		return OpenSQL(ctx, SQLOptions{Dialect: DialectSQLite, DSN: opts.DSN, BaseDir: opts.Path}, log)
	case TypePostgres:
		return OpenSQL(ctx, SQLOptions{Dialect: DialectPostgres, DSN: opts.DSN}, log)
	default:
		return nil, fmt.Errorf("unknown store type %q (want git, dir, sqlite or postgres)", opts.Type)
	}
}
