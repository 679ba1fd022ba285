package blocklist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// ReloadMode selects when the blocklist is re-read.
type ReloadMode string

const (
	// ReloadPerRequest re-reads the list as part of every admission decision.
	ReloadPerRequest ReloadMode = "request"
	// ReloadInterval re-reads the list on a fixed period.
	ReloadInterval ReloadMode = "interval"
	// ReloadWatch re-reads the list when the file changes on disk.
	ReloadWatch ReloadMode = "watch"
)

// ParseReloadMode maps a config string onto a ReloadMode.
func ParseReloadMode(s string) (ReloadMode, error) {
	switch m := ReloadMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ReloadPerRequest, ReloadInterval, ReloadWatch:
		return m, nil
	case "":
		return ReloadInterval, nil
	default:
		return "", fmt.Errorf("unknown reload mode %q", s)
	}
}

// Reloadable is anything that can refresh its blocklist.
type Reloadable interface {
	Reload(ctx context.Context) (domain.Blocklist, error)
}

// defaultDebounce coalesces bursts of filesystem events from editors and
// atomic renames into one reload.
const defaultDebounce = 100 * time.Millisecond

// defaultPollInterval drives watch mode while the watch cannot be set up and
// no interval is configured.
const defaultPollInterval = 5 * time.Second

// ReloaderOptions configures a Reloader.
type ReloaderOptions struct {
	Target    Reloadable
	Mode      ReloadMode
	Interval  time.Duration // period for interval mode; backstop resync in watch mode when > 0
	WatchPath string        // file to watch in watch mode
	Debounce  time.Duration
	Logger    log.Logger
}

// Reloader drives background reloads. Per-request mode needs no background
// work, so Run just waits for cancellation in that mode.
type Reloader struct {
	target    Reloadable
	mode      ReloadMode
	interval  time.Duration
	watchPath string
	debounce  time.Duration
	logger    log.Logger
}

// NewReloader builds a Reloader. Watch mode without a path falls back to
// interval mode.
func NewReloader(opts ReloaderOptions) *Reloader {
	r := &Reloader{
		target:    opts.Target,
		mode:      opts.Mode,
		interval:  opts.Interval,
		watchPath: opts.WatchPath,
		debounce:  opts.Debounce,
		logger:    opts.Logger,
	}
	if r.logger == nil {
		r.logger = log.GetLogger()
	}
	if r.debounce <= 0 {
		r.debounce = defaultDebounce
	}
	if r.mode == ReloadWatch && r.watchPath == "" {
		r.logger.Warn(nil, "watch mode needs a file source, falling back to interval reloads")
		r.mode = ReloadInterval
	}
	return r
}

// Mode reports the effective mode after fallbacks.
func (r *Reloader) Mode() ReloadMode { return r.mode }

// Run blocks until ctx is cancelled. Reload errors are logged and do not stop it.
func (r *Reloader) Run(ctx context.Context) error {
	switch r.mode {
	case ReloadInterval:
		return r.runInterval(ctx)
	case ReloadWatch:
		return r.runWatch(ctx)
	default:
		<-ctx.Done()
		return nil
	}
}

func (r *Reloader) runInterval(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("interval reload requires a positive interval, got %s", r.interval)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reload(ctx, "interval")
		}
	}
}

// runWatch watches the parent directory rather than the file itself so that
// atomic replace-by-rename and delete-then-create are both observed. When the
// watcher cannot be set up (missing directory, inotify limits) it polls on an
// interval and retries the watch on every tick.
func (r *Reloader) runWatch(ctx context.Context) error {
	target := filepath.Clean(r.watchPath)
	w, err := r.newWatcher(target)
	if err != nil {
		r.logger.Warn(map[string]any{
			"path":  target,
			"error": err,
			"every": r.pollInterval(),
		}, "blocklist watch unavailable, falling back to interval reloads")
		if w = r.pollUntilWatchable(ctx, target); w == nil {
			return nil
		}
	}
	defer w.Close()
	r.logger.Info(map[string]any{"path": target}, "watching blocklist for changes")
	return r.watchLoop(ctx, w, target)
}

func (r *Reloader) newWatcher(target string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(target)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

// pollInterval is the fallback period when the watch cannot be established.
func (r *Reloader) pollInterval() time.Duration {
	if r.interval > 0 {
		return r.interval
	}
	return defaultPollInterval
}

// pollUntilWatchable reloads on every tick until a watcher can be created.
// It returns nil once ctx is done.
func (r *Reloader) pollUntilWatchable(ctx context.Context, target string) *fsnotify.Watcher {
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reload(ctx, "interval")
			w, err := r.newWatcher(target)
			if err != nil {
				r.logger.Debug(map[string]any{"path": target, "error": err}, "blocklist watch still unavailable")
				continue
			}
			// the file may have appeared between the reload and the watch
			r.reload(ctx, "watch")
			return w
		}
	}
}

func (r *Reloader) watchLoop(ctx context.Context, w *fsnotify.Watcher, target string) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !relevant(ev.Op) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(r.debounce)
			} else {
				debounce.Reset(r.debounce)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn(map[string]any{"error": err}, "blocklist watcher error")
		case <-fire:
			fire = nil
			r.reload(ctx, "watch")
		case <-tick:
			r.reload(ctx, "interval")
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}

func (r *Reloader) reload(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.target.Reload(ctx); err != nil {
		r.logger.Debug(map[string]any{"trigger": trigger, "error": err}, "background reload failed")
	}
}
