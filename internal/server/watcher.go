package server

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// settleDelay is how long a ledger directory must stay quiet before the
// collected changes are reported. Editors and git checkouts touch many files
// in quick succession.
const settleDelay = 100 * time.Millisecond

// Watcher reports changed TOML documents under a ledger directory. Bursts of
// events are coalesced and each changed path is reported once.
type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	onChange func(relPath string) error
	log      *logging.Logger
	settle   time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	quit     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches root and every non-hidden directory below it.
func NewWatcher(root string, onChange func(string) error, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fsw,
		root:     root,
		onChange: onChange,
		log:      log.Component("watch"),
		settle:   settleDelay,
		pending:  make(map[string]struct{}),
		quit:     make(chan struct{}),
	}
	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		// .git and other dot directories are not part of the layout.
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		w.log.Debug().Str("dir", path).Msg("watching directory")
		return w.fs.Add(path)
	})
}

// isLedgerDocument reports whether an event changes a TOML document.
// Removals count: deleting a transaction changes balances.
func isLedgerDocument(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".toml" {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// Start runs the event loop until Stop.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.quit:
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchTree(event.Name); err != nil {
				w.log.Warn().Str("dir", event.Name).Err(err).Msg("failed to watch new directory")
			}
			return
		}
	}
	if !isLedgerDocument(event) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	rel = filepath.ToSlash(rel)
	w.log.Debug().Str("path", rel).Str("op", event.Op.String()).Msg("file changed")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.settle, w.flush)
	} else {
		w.timer.Reset(w.settle)
	}
}

// flush reports the collected paths in lexical order.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	w.timer = nil
	w.mu.Unlock()

	select {
	case <-w.quit:
		return
	default:
	}

	sort.Strings(paths)
	for _, p := range paths {
		if err := w.onChange(p); err != nil {
			w.log.Warn().Str("path", p).Err(err).Msg("change handler failed")
		}
	}
}

// Stop ends the event loop and drops unreported changes. It may be called
// more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.quit)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}
