package blocklist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
)

func TestParseReloadMode(t *testing.T) {
	for in, want := range map[string]ReloadMode{
		"":          ReloadInterval,
		"request":   ReloadPerRequest,
		" Interval": ReloadInterval,
		"WATCH":     ReloadWatch,
	} {
		got, err := ParseReloadMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReloadMode("sometimes")
	assert.Error(t, err)
}

func runReloader(t *testing.T, r *Reloader) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("reloader did not stop")
			return nil
		}
	}
}

func TestReloader_PerRequestDoesNothingInBackground(t *testing.T) {
	target := newFakeReloadable()
	r := NewReloader(ReloaderOptions{Target: target, Mode: ReloadPerRequest, Interval: time.Millisecond, Logger: log.NewNoopLogger()})
	stop := runReloader(t, r)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestReloader_IntervalTicks(t *testing.T) {
	target := newFakeReloadable()
	r := NewReloader(ReloaderOptions{Target: target, Mode: ReloadInterval, Interval: 5 * time.Millisecond, Logger: log.NewNoopLogger()})
	stop := runReloader(t, r)
	for i := 0; i < 3; i++ {
		select {
		case <-target.ch:
		case <-time.After(time.Second):
			t.Fatal("expected periodic reloads")
		}
	}
	require.NoError(t, stop())
}

func TestReloader_IntervalRequiresPositivePeriod(t *testing.T) {
	r := NewReloader(ReloaderOptions{Target: newFakeReloadable(), Mode: ReloadInterval, Logger: log.NewNoopLogger()})
	assert.Error(t, r.Run(context.Background()))
}

func TestReloader_WatchWithoutPathFallsBack(t *testing.T) {
	r := NewReloader(ReloaderOptions{Target: newFakeReloadable(), Mode: ReloadWatch, Interval: time.Second, Logger: log.NewNoopLogger()})
	assert.Equal(t, ReloadInterval, r.Mode())
}

func TestReloader_WatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked_domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.example\n"), 0o644))

	target := newFakeReloadable()
	r := NewReloader(ReloaderOptions{
		Target:    target,
		Mode:      ReloadWatch,
		WatchPath: path,
		Debounce:  10 * time.Millisecond,
		Logger:    log.NewNoopLogger(),
	})
	stop := runReloader(t, r)

	// give the watcher time to register before touching the file
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a.example\nb.example\n"), 0o644))

	select {
	case <-target.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after the file changed")
	}
	require.NoError(t, stop())
}

func TestReloader_WatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked_domains.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	target := newFakeReloadable()
	r := NewReloader(ReloaderOptions{
		Target:    target,
		Mode:      ReloadWatch,
		WatchPath: path,
		Debounce:  5 * time.Millisecond,
		Logger:    log.NewNoopLogger(),
	})
	stop := runReloader(t, r)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestReloader_WatchMissingDirectoryPollsThenWatches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	path := filepath.Join(dir, "blocked_domains.txt")

	target := newFakeReloadable()
	r := NewReloader(ReloaderOptions{
		Target:    target,
		Mode:      ReloadWatch,
		WatchPath: path,
		Interval:  10 * time.Millisecond,
		Debounce:  5 * time.Millisecond,
		Logger:    log.NewNoopLogger(),
	})
	stop := runReloader(t, r)

	// no directory yet: Run keeps going and reloads on its interval
	for i := 0; i < 2; i++ {
		select {
		case <-target.ch:
		case <-time.After(time.Second):
			t.Fatal("expected interval reloads while the directory is missing")
		}
	}

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("a.example\n"), 0o644))
	before := target.calls.Load()
	require.Eventually(t, func() bool { return target.calls.Load() > before }, time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
}

func TestReloader_WatchMissingDirectoryWithoutInterval(t *testing.T) {
	r := NewReloader(ReloaderOptions{
		Target:    newFakeReloadable(),
		Mode:      ReloadWatch,
		WatchPath: filepath.Join(t.TempDir(), "nope", "list.txt"),
		Logger:    log.NewNoopLogger(),
	})
	assert.Equal(t, defaultPollInterval, r.pollInterval())

	stop := runReloader(t, r)
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, stop(), "cancellation ends the fallback loop cleanly")
}
