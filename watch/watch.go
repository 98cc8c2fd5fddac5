// Package watch reports edits to shader sources so programs can be rebuilt
// while the frame loop keeps running.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/vkngwrapper/kiyo"
)

const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultBuffer   = 64
)

// Watcher delivers the cleaned absolute path of every watched file whose
// content changed. A burst of writes to one file is delivered once.
type Watcher interface {
	Changes() <-chan string
	Close() error
}

type Options struct {
	// Debounce is how long a file must stay quiet before its change is
	// delivered.
	Debounce time.Duration
	Buffer   int
	Logger   *slog.Logger
}

// FS watches individual files through their parent directories, which keeps
// working across editors that save by renaming a temporary file over the
// original.
type FS struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}

	changes   chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   bool
}

var _ Watcher = (*FS)(nil)

func New(opts Options) (*FS, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = kiyo.Logger()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	return &FS{
		watcher:  w,
		debounce: opts.Debounce,
		log:      opts.Logger,
		files:    map[string]struct{}{},
		dirs:     map[string]struct{}{},
		changes:  make(chan string, opts.Buffer),
		done:     make(chan struct{}),
	}, nil
}

// Add starts watching paths. Adding a path twice is a no-op.
func (w *FS) Add(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.Wrapf(err, "watch %s", p)
		}
		dir := filepath.Dir(abs)
		if _, ok := w.dirs[dir]; !ok {
			if err := w.watcher.Add(dir); err != nil {
				return errors.Wrapf(err, "watch %s", dir)
			}
			w.dirs[dir] = struct{}{}
		}
		w.files[abs] = struct{}{}
	}
	return nil
}

// Watched returns the watched files in sorted order.
func (w *FS) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (w *FS) watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok
}

// Start runs the event loop until ctx is done or Close is called. The
// Changes channel is closed when the loop exits.
func (w *FS) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.changes)
		w.loop(ctx)
	}()
}

func (w *FS) Changes() <-chan string {
	return w.changes
}

func (w *FS) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *FS) loop(ctx context.Context) {
	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			if !w.watching(path) {
				continue
			}
			pending[path] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "err", err)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			for _, p := range paths {
				w.log.Debug("source changed", "path", p)
				select {
				case w.changes <- p:
				case <-ctx.Done():
					return
				case <-w.done:
					return
				}
			}
		}
	}
}
