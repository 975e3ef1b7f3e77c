package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/store"
)

type refreshRepo struct {
	store.Repository
	calls   atomic.Int32
	changes bool
	err     error
}

func (r *refreshRepo) Refresh(ctx context.Context) (store.RefreshResult, error) {
	r.calls.Add(1)
	return store.RefreshResult{HasChanges: r.changes}, r.err
}

func (r *refreshRepo) Close() error { return nil }

func TestRefreshAllReportsChangedGroups(t *testing.T) {
	changed := &refreshRepo{changes: true}
	quiet := &refreshRepo{}
	broken := &refreshRepo{err: errors.New("network down")}
	a, err := New([]Group{
		{ID: "broken", Repo: broken},
		{ID: "changed", Repo: changed},
		{ID: "quiet", Repo: quiet},
	}, uuid.Nil, nil)
	require.NoError(t, err)

	var got []string
	r := NewRefresher(a, time.Minute, func(id string) { got = append(got, id) })
	r.RefreshAll(context.Background())

	assert.Equal(t, []string{"changed"}, got)
	assert.EqualValues(t, 1, broken.calls.Load())
	assert.EqualValues(t, 1, quiet.calls.Load())
}

func TestRefresherTicks(t *testing.T) {
	repo := &refreshRepo{changes: true}
	a, err := New([]Group{{ID: "g", Repo: repo}}, uuid.Nil, nil)
	require.NoError(t, err)

	var changes atomic.Int32
	r := NewRefresher(a, 10*time.Millisecond, func(string) { changes.Add(1) })
	r.Start(context.Background())
	r.Start(context.Background())

	assert.Eventually(t, func() bool { return changes.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	n := repo.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, repo.calls.Load(), "no refresh after Stop")
}

func TestRefresherDisabled(t *testing.T) {
	repo := &refreshRepo{}
	a, err := New([]Group{{ID: "g", Repo: repo}}, uuid.Nil, nil)
	require.NoError(t, err)

	r := NewRefresher(a, 0, nil)
	r.Start(context.Background())
	r.Stop()
	assert.EqualValues(t, 0, repo.calls.Load())
}

func TestRefresherRestartsAfterCancel(t *testing.T) {
	repo := &refreshRepo{}
	a, err := New([]Group{{ID: "g", Repo: repo}}, uuid.Nil, nil)
	require.NoError(t, err)
	r := NewRefresher(a, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return !r.running
	}, time.Second, 5*time.Millisecond)

	before := repo.calls.Load()
	r.Start(context.Background())
	defer r.Stop()
	assert.Eventually(t, func() bool { return repo.calls.Load() > before }, time.Second, 5*time.Millisecond)
}
