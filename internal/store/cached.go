package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/borrowchecker/borrowchecker/internal/cache"
	"github.com/borrowchecker/borrowchecker/internal/ledger"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// Cache strategies.
const (
	StrategySimple               = "simple"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// Cached wraps a Repository, caching reads. Writes and a Refresh that
// reports changes invalidate everything.
type Cached struct {
	inner    Repository
	cache    cache.Cache
	ttl      time.Duration
	strategy string
	log      *logging.Logger

	mu           sync.Mutex
	revalidating map[string]bool

	// Cancels background revalidation on Close
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
}

// NewCached wraps inner with c.
func NewCached(inner Repository, c cache.Cache, ttl time.Duration, strategy string, log *logging.Logger) *Cached {
	if log == nil {
		log = logging.Nop()
	}
	if strategy == "" {
		strategy = StrategySimple
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cached{
		inner:        inner,
		cache:        c,
		ttl:          ttl,
		strategy:     strategy,
		log:          log.Component("store.cache"),
		revalidating: make(map[string]bool),
		cancelCtx:    ctx,
		cancelFunc:   cancel,
	}
}

// Inner returns the wrapped repository.
func (s *Cached) Inner() Repository {
	return s.inner
}

// cachedRead serves key from the cache, or loads and caches it.
func cachedRead[T any](ctx context.Context, s *Cached, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if data, found, stale := s.cache.Get(key); found {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			if stale && s.strategy == StrategyStaleWhileRevalidate {
				go s.revalidate(key, func(ctx context.Context) error {
					_, err := loadAndStore(ctx, s, key, load)
					return err
				})
			}
			return v, nil
		}
		s.cache.Invalidate(key)
	}
	return loadAndStore(ctx, s, key, load)
}

func loadAndStore[T any](ctx context.Context, s *Cached, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("not caching unencodable value")
		return v, nil
	}
	if s.strategy == StrategyStaleWhileRevalidate {
		// Fresh for half the TTL, then stale for the other half
		s.cache.SetWithStale(key, data, s.ttl/2, s.ttl)
	} else {
		s.cache.Set(key, data, s.ttl)
	}
	return v, nil
}

func (s *Cached) revalidate(key string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.revalidating[key] {
		s.mu.Unlock()
		return
	}
	s.revalidating[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.revalidating, key)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.cancelCtx, 30*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil && s.cancelCtx.Err() == nil {
		s.log.Warn().Str("key", key).Err(err).Msg("background revalidation failed")
	}
}

// Invalidate drops every cached read.
func (s *Cached) Invalidate() {
	s.cache.InvalidateAll()
}

func (s *Cached) LoadGroup(ctx context.Context) (ledger.Group, error) {
	return cachedRead(ctx, s, "group", s.inner.LoadGroup)
}

func (s *Cached) ListLedgers(ctx context.Context) ([]ledger.Ledger, error) {
	return cachedRead(ctx, s, "ledgers", s.inner.ListLedgers)
}

func (s *Cached) ListTransactions(ctx context.Context, ledgerID uuid.UUID) ([]ledger.Transaction, error) {
	return cachedRead(ctx, s, "transactions:"+ledgerID.String(), func(ctx context.Context) ([]ledger.Transaction, error) {
		return s.inner.ListTransactions(ctx, ledgerID)
	})
}

func (s *Cached) Files(ctx context.Context) ([]File, error) {
	return cachedRead(ctx, s, "files", s.inner.Files)
}

func (s *Cached) SaveGroup(ctx context.Context, g ledger.Group) error {
	return s.afterWrite(s.inner.SaveGroup(ctx, g))
}

func (s *Cached) CreateLedger(ctx context.Context, l ledger.Ledger) (uuid.UUID, error) {
	id, err := s.inner.CreateLedger(ctx, l)
	return id, s.afterWrite(err)
}

func (s *Cached) UpdateLedger(ctx context.Context, l ledger.Ledger) error {
	return s.afterWrite(s.inner.UpdateLedger(ctx, l))
}

func (s *Cached) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	return s.afterWrite(s.inner.DeleteLedger(ctx, id))
}

func (s *Cached) CreateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) (uuid.UUID, error) {
	id, err := s.inner.CreateTransaction(ctx, ledgerID, tx)
	return id, s.afterWrite(err)
}

func (s *Cached) UpdateTransaction(ctx context.Context, ledgerID uuid.UUID, tx ledger.Transaction) error {
	return s.afterWrite(s.inner.UpdateTransaction(ctx, ledgerID, tx))
}

func (s *Cached) DeleteTransaction(ctx context.Context, ledgerID, txID uuid.UUID) error {
	return s.afterWrite(s.inner.DeleteTransaction(ctx, ledgerID, txID))
}

func (s *Cached) Refresh(ctx context.Context) (RefreshResult, error) {
	res, err := s.inner.Refresh(ctx)
	if err == nil && res.HasChanges {
		s.Invalidate()
	}
	return res, err
}

// Close cancels background revalidation, stops the cache and closes the
// wrapped repository.
func (s *Cached) Close() error {
	s.cancelFunc()
	s.cache.Stop()
	return s.inner.Close()
}

func (s *Cached) afterWrite(err error) error {
	if err == nil {
		s.Invalidate()
	}
	return err
}
