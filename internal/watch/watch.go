// Package watch feeds files dropped into a directory to the ingestion
// flow.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/askdoc/askdoc/pkg/textextract"
)

// DefaultQuiesce is how long a file must stay quiet after its last write
// before it is handed off. Copies into the watch directory arrive as a
// burst of writes, not one event.
const DefaultQuiesce = 2 * time.Second

// Handler receives the path of a settled file.
type Handler func(ctx context.Context, path string)

type Watcher struct {
	fsw     *fsnotify.Watcher
	dir     string
	quiesce time.Duration
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(dir string, quiesce time.Duration, handler Handler, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if quiesce <= 0 {
		quiesce = DefaultQuiesce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		fsw:     fsw,
		dir:     dir,
		quiesce: quiesce,
		handler: handler,
		log:     log,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run blocks until the context is cancelled, dispatching each settled
// supported file to the handler.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return w.fsw.Close()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !textextract.Supported(filepath.Ext(event.Name)) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

// schedule arms, or re-arms, the quiesce timer for a path. Every new
// write pushes the hand-off back until the file has been quiet for the
// full window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.quiesce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Info("file settled", "path", path)
		w.handler(ctx, path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}
