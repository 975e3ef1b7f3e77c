package app

import (
	"context"
	"sync"
	"time"
)

// Refresher periodically refreshes every group from its remote. Groups
// whose refresh reports changes are passed to onChange.
type Refresher struct {
	app      *App
	interval time.Duration
	onChange func(groupID string)

	mu      sync.Mutex
	running bool
	ticker  *time.Ticker
	done    chan struct{}
	stopped chan struct{}
}

// NewRefresher creates a refresher for a. It does nothing until Start.
func NewRefresher(a *App, interval time.Duration, onChange func(groupID string)) *Refresher {
	return &Refresher{app: a, interval: interval, onChange: onChange}
}

// Start begins the ticker loop. A non-positive interval disables it. The
// loop ends on Stop or when ctx is cancelled, after which Start may be
// called again.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.interval <= 0 {
		return
	}
	r.running = true
	r.ticker = time.NewTicker(r.interval)
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})

	go r.run(ctx, r.ticker, r.done, r.stopped)
}

// Stop halts the loop and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.ticker.Stop()
	close(r.done)
	stopped := r.stopped
	r.mu.Unlock()

	<-stopped
}

func (r *Refresher) run(ctx context.Context, ticker *time.Ticker, done, stopped chan struct{}) {
	defer close(stopped)
	defer func() {
		// A cancelled ctx ends the loop without Stop; allow a later Start.
		r.mu.Lock()
		if r.stopped == stopped {
			r.running = false
			ticker.Stop()
		}
		r.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every group once. Failures are logged and do not
// stop the other groups.
func (r *Refresher) RefreshAll(ctx context.Context) {
	for _, g := range r.app.groups {
		res, err := g.Repo.Refresh(ctx)
		if err != nil {
			r.app.log.Warn().Err(err).Str("group", g.ID).Msg("scheduled refresh failed")
			continue
		}
		if res.HasChanges {
			r.app.log.Info().Str("group", g.ID).Msg("repository updated")
			if r.onChange != nil {
				r.onChange(g.ID)
			}
		}
	}
}
