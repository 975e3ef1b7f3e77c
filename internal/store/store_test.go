package store

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/ledger"
)

var (
	araex    = uuid.MustParse("c8744a29-7ed0-447a-af5a-51e4ad291d1d")
	wuesten  = uuid.MustParse("3abaaf40-a35a-488d-8ef2-0184c8c5f3c3")
	flak     = uuid.MustParse("92c0a0fc-aa86-4922-ab1f-7b9326720177")
	congress = uuid.MustParse("019b5a10-3c2e-7d41-9a6b-2f3e4c5d6e7f")
	flightID = uuid.MustParse("019b5b4f-8077-7c4b-89d4-9380c444ee9d")
	mateID   = uuid.MustParse("019b5c02-11aa-7e3f-b5c4-6d7e8f901234")
)

// copyFixture copies the shared fixture repository layout into a temp dir.
func copyFixture(t *testing.T) string {
	t.Helper()
	src := filepath.Join("..", "ledger", "testdata", "repo")
	dst := t.TempDir()

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
	return dst
}

// commitFixture turns a fixture copy into a git repository with one commit
// on branch.
func commitFixture(t *testing.T, branch string) string {
	t.Helper()
	dir := copyFixture(t)

	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	require.NoError(t, err)
	commitAll(t, repo, "add fixture")
	return dir
}

func commitAll(t *testing.T, repo *git.Repository, msg string) {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

// assertFixtureReads checks the read path against the fixture contents.
func assertFixtureReads(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	group, err := repo.LoadGroup(ctx)
	require.NoError(t, err)
	require.Len(t, group.Entities, 3)
	assert.Equal(t, "Wüstenschiff", group.Entities[1].DisplayName)

	ledgers, err := repo.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 1, "folders without a marker are not ledgers")
	assert.Equal(t, congress, ledgers[0].ID)
	assert.Equal(t, "39C3", ledgers[0].DisplayName)
	assert.Equal(t, "39C3", ledgers[0].Dir)

	txs, err := repo.ListTransactions(ctx, congress)
	require.NoError(t, err)
	require.Len(t, txs, 2, "hidden files are skipped")
	assert.Equal(t, mateID, txs[0].ID, "newest first")
	assert.Equal(t, flightID, txs[1].ID)
	assert.Equal(t, "🛫", txs[1].Description)

	_, err = repo.ListTransactions(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGitStoreReadsMainBranch(t *testing.T) {
	dir := commitFixture(t, "main")

	// Uncommitted changes are invisible.
	require.NoError(t, os.Remove(filepath.Join(dir, ledger.GroupFile)))

	s, err := OpenGit(GitOptions{Path: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	assertFixtureReads(t, s)
}

func TestGitStoreFallsBackToHEAD(t *testing.T) {
	dir := commitFixture(t, "master")

	s, err := OpenGit(GitOptions{Path: dir}, nil)
	require.NoError(t, err)

	assertFixtureReads(t, s)
}

func TestGitStoreFiles(t *testing.T) {
	s, err := OpenGit(GitOptions{Path: commitFixture(t, "main")}, nil)
	require.NoError(t, err)

	files, err := s.Files(context.Background())
	require.NoError(t, err)

	kinds := map[string]FileKind{}
	for _, f := range files {
		kinds[f.Path] = f.Kind
		assert.Positive(t, f.Size, f.Path)
	}
	ledgerDir := "ledgers/39C3/"
	want := map[string]FileKind{
		"group.toml":               KindGroup,
		"ledgers/empty/README.md":  KindOther,
		ledgerDir + ".ledger.toml": KindLedger,
		ledgerDir + ".notes.toml":  KindOther,
	}
	want[ledgerDir+ledger.TransactionFileName(flightID)] = KindTransaction
	want[ledgerDir+ledger.TransactionFileName(mateID)] = KindTransaction
	assert.Equal(t, want, kinds)
}

func TestGitStoreIsReadOnly(t *testing.T) {
	s, err := OpenGit(GitOptions{Path: commitFixture(t, "main")}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.SaveGroup(ctx, ledger.Group{}), ErrUnsupported)
	_, err = s.CreateLedger(ctx, ledger.Ledger{})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.CreateTransaction(ctx, congress, ledger.Transaction{})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, congress, flightID), ErrUnsupported)
}

func TestOpenGitNotARepository(t *testing.T) {
	_, err := OpenGit(GitOptions{Path: t.TempDir()}, nil)
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, KindRepoOpen, storeErr.Kind)
}

func TestGitStoreRefreshWithoutRemote(t *testing.T) {
	s, err := OpenGit(GitOptions{Path: commitFixture(t, "main")}, nil)
	require.NoError(t, err)

	res, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, res.HasChanges)
}

func TestGitStoreRefreshFetchesRemote(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary required for the file transport")
	}
	upstreamDir := commitFixture(t, "main")
	upstream, err := git.PlainOpen(upstreamDir)
	require.NoError(t, err)

	cloneDir := t.TempDir()
	_, err = git.PlainClone(cloneDir, false, &git.CloneOptions{URL: upstreamDir})
	require.NoError(t, err)

	s, err := OpenGit(GitOptions{Path: cloneDir}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, res.HasChanges)

	require.NoError(t, os.Remove(filepath.Join(upstreamDir, ledger.LedgersDir, "39C3", ledger.TransactionFileName(mateID))))
	commitAll(t, upstream, "drop mate")

	res, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, res.HasChanges)

	txs, err := s.ListTransactions(ctx, congress)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDirStoreReads(t *testing.T) {
	s, err := OpenDir(copyFixture(t), nil)
	require.NoError(t, err)
	assertFixtureReads(t, s)
}

func TestDirStoreSkipsBrokenFiles(t *testing.T) {
	dir := copyFixture(t)
	broken := filepath.Join(dir, ledger.LedgersDir, "39C3", ledger.TransactionFileName(uuid.New()))
	require.NoError(t, os.WriteFile(broken, []byte("amount = [oops"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ledger.LedgersDir, "bad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ledger.LedgersDir, "bad", ledger.LedgerMarker), []byte("id = 12"), 0o644))

	s, err := OpenDir(dir, nil)
	require.NoError(t, err)
	assertFixtureReads(t, s)
}

func TestDirStoreMissingGroup(t *testing.T) {
	s, err := OpenDir(filepath.Join(t.TempDir(), "new"), nil)
	require.NoError(t, err)

	_, err = s.LoadGroup(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	ledgers, err := s.ListLedgers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ledgers)
}

func TestDirStoreWrites(t *testing.T) {
	s, err := OpenDir(t.TempDir(), nil)
	require.NoError(t, err)
	assertWriteContract(t, s)

	// Writes land in the repository layout, and deletes remove the folder.
	ctx := context.Background()
	id, err := s.CreateLedger(ctx, ledger.Ledger{DisplayName: "Camp", Participants: []uuid.UUID{araex, flak}})
	require.NoError(t, err)
	ledgers, err := s.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	assert.Equal(t, id, ledgers[0].ID)
	dir := filepath.Join(s.Root(), ledger.LedgersDir, ledgers[0].Dir)
	_, err = os.Stat(filepath.Join(dir, ledger.LedgerMarker))
	assert.NoError(t, err)

	require.NoError(t, s.DeleteLedger(ctx, id))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "ledger folder removed")
}

func TestSQLiteStoreWrites(t *testing.T) {
	s, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectSQLite, DSN: "test.db", BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer s.Close()

	assertWriteContract(t, s)

	files, err := s.Files(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 5)
	assert.Equal(t, "sqlite:entities", files[0].Path)
	assert.Equal(t, int64(3), files[0].Size)
}

func TestSQLiteStoreEmptyGroup(t *testing.T) {
	s, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectSQLite, DSN: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadGroup(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreWrites(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectPostgres, DSN: dsn}, nil)
	require.NoError(t, err)
	defer s.Close()

	assertWriteContract(t, s)
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectPostgres}, nil)
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

// assertWriteContract runs create, update and delete through a writable
// repository.
func assertWriteContract(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	group := ledger.Group{Entities: []ledger.Entity{
		{ID: araex, DisplayName: "Araex"},
		{ID: wuesten, DisplayName: "Wüstenschiff"},
		{ID: flak, DisplayName: "flakmonkey"},
	}}
	require.NoError(t, repo.SaveGroup(ctx, group))
	loaded, err := repo.LoadGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, group, loaded)

	ledgerID, err := repo.CreateLedger(ctx, ledger.Ledger{
		DisplayName:  "Road trip",
		Participants: []uuid.UUID{araex, flak},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, ledgerID)

	when := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	txID, err := repo.CreateTransaction(ctx, ledgerID, ledger.Transaction{
		Description: "Fuel",
		PaidBy:      araex,
		Currency:    "EUR",
		Amount:      80,
		Time:        when,
		Splits: []ledger.Split{
			{EntityID: araex, Ratio: ledger.NewRatio(1, 2)},
			{EntityID: flak, Ratio: ledger.NewRatio(1, 2)},
		},
	})
	require.NoError(t, err)

	txs, err := repo.ListTransactions(ctx, ledgerID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, txID, txs[0].ID)
	assert.Equal(t, "Fuel", txs[0].Description)
	assert.True(t, when.Equal(txs[0].Time))
	assert.Equal(t, "1/2", txs[0].Splits[1].Ratio.String())

	updated := txs[0]
	updated.Amount = 90
	updated.Splits = updated.Splits[:1]
	require.NoError(t, repo.UpdateTransaction(ctx, ledgerID, updated))
	txs, err = repo.ListTransactions(ctx, ledgerID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, txs[0].Amount)
	assert.Len(t, txs[0].Splits, 1)

	missing := updated
	missing.ID = uuid.New()
	assert.ErrorIs(t, repo.UpdateTransaction(ctx, ledgerID, missing), ErrNotFound)

	require.NoError(t, repo.UpdateLedger(ctx, ledger.Ledger{
		ID:           ledgerID,
		DisplayName:  "Road trip 2025",
		Participants: []uuid.UUID{araex, wuesten, flak},
	}))
	ledgers, err := repo.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	assert.Equal(t, "Road trip 2025", ledgers[0].DisplayName)
	assert.Len(t, ledgers[0].Participants, 3)

	require.NoError(t, repo.DeleteTransaction(ctx, ledgerID, txID))
	assert.ErrorIs(t, repo.DeleteTransaction(ctx, ledgerID, txID), ErrNotFound)
	txs, err = repo.ListTransactions(ctx, ledgerID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	require.NoError(t, repo.DeleteLedger(ctx, ledgerID))
	assert.ErrorIs(t, repo.DeleteLedger(ctx, ledgerID), ErrNotFound)
	_, err = repo.CreateTransaction(ctx, ledgerID, ledger.Transaction{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(context.Background(), Options{Type: "s3"}, nil)
	assert.ErrorContains(t, err, "unknown store type")
}
