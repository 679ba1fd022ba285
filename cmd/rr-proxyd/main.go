package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/config"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
	"github.com/haukened/rr-proxy/internal/proxy/services/admission"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-proxyd"
)

// errBlocked makes `check` exit non-zero without printing an error.
var errBlocked = errors.New("one or more hosts are blocked")

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errBlocked) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   appName,
		Short: "Domain-blocking HTTP forward proxy",
		Long: `rr-proxyd is an HTTP/1.x forward proxy that refuses connections to
hosts on a blocklist. CONNECT tunnels and plain HTTP requests are both
checked before any upstream connection is made.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newCheckCmd(&cfgFile),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfgFile)
		},
	}
}

func newCheckCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check HOST...",
		Short: "Report whether hosts would be blocked by the configured list",
		Long: `Load the configured blocklist once and print ALLOW or BLOCK for each
host. Exits 1 when any host is blocked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg, args, cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}

// loadConfig loads configuration and configures global logging from it.
func loadConfig(path string) (*config.AppConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

func serve(parent context.Context, cfgFile string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.GetLogger().Sync() }()

	log.Info(map[string]any{
		"version":        version,
		"env":            cfg.Env,
		"log_level":      cfg.Log.Level,
		"address":        cfg.Listen.Address,
		"source":         cfg.Blocklist.Source,
		"reload_mode":    cfg.Blocklist.Reload.Mode,
		"cache_size":     cfg.Blocklist.CacheSize,
		"on_unparsable":  cfg.Admission.OnUnparsable,
		"socks5":         cfg.Upstream.SOCKS5,
		"max_conns":      cfg.Listen.MaxConnections,
		"max_head_bytes": cfg.Listen.MaxHeaderBytes,
	}, "Starting RR-Proxy server")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "RR-Proxy server stopped gracefully")
	return nil
}

// check loads the list once and reports a verdict per host.
func check(ctx context.Context, cfg *config.AppConfig, hosts []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	repos, err := buildRepositories(ctx, cfg, log.GetLogger())
	if err != nil {
		return err
	}
	list, err := repos.store.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}
	onUnparsable, err := domain.ParseUnparsablePolicy(cfg.Admission.OnUnparsable)
	if err != nil {
		return err
	}

	blocked := false
	for _, h := range hosts {
		v := admission.Decide(h, list, onUnparsable)
		if v.IsAllowed() {
			fmt.Fprintf(out, "ALLOW %s\n", h)
			continue
		}
		blocked = true
		if v.MatchedEntry == "" {
			fmt.Fprintf(out, "BLOCK %s (unparsable host)\n", h)
			continue
		}
		fmt.Fprintf(out, "BLOCK %s entry=%s apex=%s\n", v.Host, v.MatchedEntry, utils.GetApexDomain(v.Host))
	}
	if blocked {
		return errBlocked
	}
	return nil
}
