package events

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of filesystem changes into one payload.
const DefaultDebounce = 1000 * time.Millisecond

// WatcherConfig configures a FileWatcher.
type WatcherConfig struct {
	Paths     []string
	Recursive bool

	// Ignore holds glob-style patterns ("**" crosses directories, "*" stays
	// within one segment) matched against the changed path.
	Ignore []string

	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// FileWatcher fires one payload per debounced burst of changes.
type FileWatcher struct {
	cfg     WatcherConfig
	ignores []*regexp.Regexp
	logger  *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]struct{}
	timer   *time.Timer
	done    chan struct{}
}

// NewFileWatcher compiles the ignore patterns and returns a watcher.
func NewFileWatcher(cfg WatcherConfig, logger *slog.Logger) (*FileWatcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ignores := make([]*regexp.Regexp, 0, len(cfg.Ignore))
	for _, pattern := range cfg.Ignore {
		re, err := compileGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("events: ignore pattern %q: %w", pattern, err)
		}
		ignores = append(ignores, re)
	}
	return &FileWatcher{cfg: cfg, ignores: ignores, logger: logger}, nil
}

// compileGlob turns a glob into an anchored regexp: "**" matches across
// separators, "*" within one path segment.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(^|/)")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	b.WriteString("($|/)")
	return regexp.Compile(b.String())
}

func (w *FileWatcher) ignored(path string) bool {
	for _, re := range w.ignores {
		if re.MatchString(filepath.ToSlash(path)) {
			return true
		}
	}
	return false
}

// Start begins watching. Idempotent.
func (w *FileWatcher) Start(onTrigger TriggerFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("events: create watcher: %w", err)
	}
	for _, path := range w.cfg.Paths {
		if err := w.addPath(watcher, path); err != nil {
			w.logger.Warn("watch path failed", "path", path, "error", err)
		}
	}

	w.watcher = watcher
	w.pending = make(map[string]struct{})
	w.done = make(chan struct{})
	go w.run(onTrigger)
	return nil
}

func (w *FileWatcher) addPath(watcher *fsnotify.Watcher, path string) error {
	if err := watcher.Add(path); err != nil {
		return err
	}
	if !w.cfg.Recursive {
		return nil
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || p == path {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			w.logger.Warn("watch subdirectory failed", "path", p, "error", err)
		}
		return nil
	})
}

func (w *FileWatcher) run(onTrigger TriggerFunc) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.ignored(event.Name) {
				continue
			}
			w.record(event.Name, onTrigger)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

func (w *FileWatcher) record(path string, onTrigger TriggerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { w.flush(onTrigger) })
}

func (w *FileWatcher) flush(onTrigger TriggerFunc) {
	w.mu.Lock()
	if len(w.pending) == 0 || w.done == nil {
		w.mu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	onTrigger(Payload{
		Source:  "file_watch",
		Summary: fmt.Sprintf("%d file(s) changed", len(files)),
		Data:    strings.Join(files, "\n"),
	})
}

// Stop releases the watcher. Idempotent.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil
	w.pending = nil
	w.done = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return err
}
