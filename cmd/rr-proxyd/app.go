package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-proxy/internal/proxy/common/clock"
	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/config"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
	"github.com/haukened/rr-proxy/internal/proxy/gateways/transport"
	"github.com/haukened/rr-proxy/internal/proxy/gateways/upstream"
	"github.com/haukened/rr-proxy/internal/proxy/gateways/wire"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist/bloom"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist/lru"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist/parsers"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist/sources"
	"github.com/haukened/rr-proxy/internal/proxy/services/admission"
)

const defaultShutdownTimeout = 10 * time.Second

// Application holds all the components of the proxy
type Application struct {
	config    *config.AppConfig
	store     *blocklist.Store
	reloader  *blocklist.Reloader
	policy    *admission.Service
	transport *transport.TCPTransport
}

// repositories holds the blocklist store and whatever drives its reloads
type repositories struct {
	store    *blocklist.Store
	reloader *blocklist.Reloader
}

// buildApplication constructs all components and wires them together
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	codec := wire.NewHTTPCodec(logger)

	repos, err := buildRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	onUnparsable, err := domain.ParseUnparsablePolicy(cfg.Admission.OnUnparsable)
	if err != nil {
		return nil, err
	}
	policy := admission.NewService(admission.ServiceOptions{
		Store:            repos.store,
		ReloadPerRequest: repos.reloader.Mode() == blocklist.ReloadPerRequest,
		OnUnparsable:     onUnparsable,
		Logger:           logger,
	})

	relay, err := upstream.NewRelay(upstream.Options{
		DialTimeout: cfg.Upstream.DialTimeout,
		SOCKS5:      cfg.Upstream.SOCKS5,
		Bypass:      cfg.Upstream.Bypass,
		Logger:      logger,
		Codec:       codec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream relay: %w", err)
	}
	log.Info(map[string]any{
		"dial_timeout": cfg.Upstream.DialTimeout,
		"socks5":       cfg.Upstream.SOCKS5,
	}, "Upstream relay configured")

	tcp := transport.NewTCPTransport(transport.Options{
		Address:        cfg.Listen.Address,
		ReadTimeout:    cfg.Listen.ReadTimeout,
		MaxHeaderBytes: cfg.Listen.MaxHeaderBytes,
		MaxConnections: cfg.Listen.MaxConnections,
		Codec:          codec,
		Handoff:        relay,
		Logger:         logger,
	})

	return &Application{
		config:    cfg,
		store:     repos.store,
		reloader:  repos.reloader,
		policy:    policy,
		transport: tcp,
	}, nil
}

// buildRepositories creates the blocklist source, store, and reloader
func buildRepositories(ctx context.Context, cfg *config.AppConfig, logger log.Logger) (*repositories, error) {
	var (
		src       blocklist.Source
		watchPath string
	)
	switch cfg.Blocklist.Source {
	case "s3":
		s3src, err := sources.NewS3Source(ctx, sources.S3Options{
			Bucket:          cfg.Blocklist.S3.Bucket,
			Key:             cfg.Blocklist.S3.Key,
			Region:          cfg.Blocklist.S3.Region,
			Endpoint:        cfg.Blocklist.S3.Endpoint,
			AccessKeyID:     cfg.Blocklist.S3.AccessKeyID,
			SecretAccessKey: cfg.Blocklist.S3.SecretAccessKey,
			MaxBytes:        cfg.Blocklist.MaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 source: %w", err)
		}
		src = s3src
	default:
		fileSrc := sources.NewFileSource(cfg.Blocklist.File, cfg.Blocklist.MaxBytes)
		watchPath = fileSrc.Path()
		src = fileSrc
	}

	parse := blocklist.ParseFunc(parsers.ParsePlainList)
	if cfg.Blocklist.Format == "hosts" {
		parse = parsers.ParseHostsList
	}

	store, err := blocklist.NewStore(blocklist.Options{
		Source:   src,
		Parse:    parse,
		Bloom:    bloom.NewFactory(),
		FPRate:   cfg.Blocklist.BloomFPRate,
		NewCache: lru.NewFactory(cfg.Blocklist.CacheSize),
		Clock:    &clock.RealClock{},
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist store: %w", err)
	}

	mode, err := blocklist.ParseReloadMode(cfg.Blocklist.Reload.Mode)
	if err != nil {
		return nil, err
	}
	reloader := blocklist.NewReloader(blocklist.ReloaderOptions{
		Target:    store,
		Mode:      mode,
		Interval:  cfg.Blocklist.Reload.Interval,
		WatchPath: watchPath,
		Logger:    logger,
	})

	log.Info(map[string]any{
		"source":     src.Name(),
		"format":     cfg.Blocklist.Format,
		"mode":       reloader.Mode(),
		"interval":   cfg.Blocklist.Reload.Interval,
		"cache_size": cfg.Blocklist.CacheSize,
		"fp_rate":    cfg.Blocklist.BloomFPRate,
	}, "Blocklist store configured")

	return &repositories{store: store, reloader: reloader}, nil
}

// Run loads the blocklist, starts the proxy and the reloader, and blocks
// until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	// A missing or broken list at startup is not fatal; the proxy starts
	// with whatever the store holds and the reloader keeps trying.
	if _, err := app.store.Reload(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Initial blocklist load failed, starting with an empty list")
	}

	if err := app.transport.Start(ctx, app.policy); err != nil {
		return fmt.Errorf("failed to start TCP transport: %w", err)
	}

	stats := app.store.Stats()
	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "TCP",
		"entries":   stats.Entries,
		"version":   stats.Version,
		"source":    stats.Source,
		"loaded_at": stats.LoadedAt,
	}, "Proxy server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.reloader.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	log.Info(nil, "Shutdown initiated")

	done := make(chan error, 1)
	go func() {
		done <- app.transport.Stop()
	}()

	select {
	case err := <-done:
		if err := multierr.Append(runErr, err); err != nil {
			return err
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return multierr.Append(runErr, fmt.Errorf("shutdown timeout"))
	}
}
