package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/store"
)

func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.User.ID = araex.String()
	cfg.Groups = []config.GroupConfig{
		{ID: "chaos", Name: "Chaos", Store: config.StoreConfig{Type: "dir", Path: "../ledger/testdata/repo"}},
		{ID: "empty", Store: config.StoreConfig{Type: "sqlite", Path: t.TempDir()}},
	}
	return cfg
}

func TestOpenFromConfig(t *testing.T) {
	a, err := Open(context.Background(), fixtureConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, araex, a.User())
	groups := a.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "Chaos", groups[0].Name)
	assert.Equal(t, "empty", groups[1].Name, "name defaults to the id")

	abs, err := filepath.Abs("../ledger/testdata/repo")
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, a.WatchDirs())

	reg := bridge.NewRegistry(nil)
	require.NoError(t, a.Register(reg))
	html, err := reg.Invoke(context.Background(), CmdRenderNavigation, nil)
	require.NoError(t, err)
	assert.Contains(t, html, "39C3")
}

func TestOpenWithMemoryCache(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Cache = &config.CacheConfig{TTL: "1m"}

	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Repo().(*store.Cached)
	assert.True(t, ok)
	a.Invalidate()

	ls, err := a.Repo().ListLedgers(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ls)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.User.ID = "not-a-uuid"
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid config")

	cfg = fixtureConfig(t)
	cfg.Groups[1].Store = config.StoreConfig{Type: "git", Path: t.TempDir()}
	_, err = Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, `group "empty"`)
}
