package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/borrowchecker/borrowchecker/internal/cache"
	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/logging"
	"github.com/borrowchecker/borrowchecker/internal/store"
)

// Open builds an App from cfg: one repository per configured group,
// wrapped in a read cache when caching is enabled.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	user, err := cfg.UserID()
	if err != nil {
		return nil, err
	}

	var groups []Group
	closeAll := func() {
		for _, g := range groups {
			g.Repo.Close()
		}
	}

	for _, gc := range cfg.GroupList() {
		g, err := openGroup(ctx, cfg, gc, log)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("group %q: %w", gc.ID, err)
		}
		groups = append(groups, g)
	}

	a, err := New(groups, user, log)
	if err != nil {
		closeAll()
		return nil, err
	}
	return a, nil
}

func openGroup(ctx context.Context, cfg *config.Config, gc config.GroupConfig, log *logging.Logger) (Group, error) {
	sc := gc.Store
	opts := store.Options{
		Type:   sc.Type,
		Path:   sc.Path,
		Branch: sc.Branch,
		Remote: sc.Remote,
		DSN:    sc.GetDSN(),
		Retry: store.RetryConfig{
			MaxRetries: sc.GetRetryMaxRetries(),
			BaseDelay:  sc.GetRetryBaseDelay(),
			MaxDelay:   sc.GetRetryMaxDelay(),
			Multiplier: 2.0,
		},
	}

	repo, err := store.Open(ctx, opts, log.Component("group."+gc.ID))
	if err != nil {
		return Group{}, err
	}

	name := gc.Name
	if name == "" {
		name = gc.ID
	}
	g := Group{ID: gc.ID, Name: name, Repo: repo}
	if sc.Type == store.TypeDir {
		if abs, err := filepath.Abs(sc.Path); err == nil {
			g.WatchDir = abs
		} else {
			g.WatchDir = sc.Path
		}
	}

	if cfg.Cache.IsCacheEnabled() {
		c, err := newCache(ctx, cfg.Cache, gc.ID, log)
		if err != nil {
			repo.Close()
			return Group{}, err
		}
		g.Repo = store.NewCached(repo, c, cfg.Cache.GetTTL(), cfg.Cache.GetStrategy(), log)
	}
	return g, nil
}

// newCache creates the read cache of one group. Redis keys are prefixed
// with the group ID so groups never share entries.
func newCache(ctx context.Context, cc *config.CacheConfig, groupID string, log *logging.Logger) (cache.Cache, error) {
	switch cc.GetType() {
	case "redis":
		prefix := cc.Prefix
		if prefix == "" {
			prefix = "borrowchecker:"
		}
		rc := cache.NewRedisCache(cc.GetAddr(), cc.GetPassword(), cc.DB, prefix+groupID+":", log)
		if rc == nil {
			return nil, errors.New("cache: redis requires addr")
		}
		if err := rc.Ping(ctx); err != nil {
			rc.Stop()
			return nil, fmt.Errorf("cache: redis %s: %w", cc.GetAddr(), err)
		}
		return rc, nil
	default:
		return cache.NewMemoryCache(), nil
	}
}

// Invalidate drops cached reads of every group.
func (a *App) Invalidate() {
	for _, g := range a.groups {
		if c, ok := g.Repo.(*store.Cached); ok {
			c.Invalidate()
		}
	}
}

// WatchDirs returns the directories of dir-backed groups.
func (a *App) WatchDirs() []string {
	var dirs []string
	for _, g := range a.groups {
		if g.WatchDir != "" {
			dirs = append(dirs, g.WatchDir)
		}
	}
	return dirs
}
