package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, "127.0.0.1:3128", cfg.Listen.Address)
	assert.Equal(t, 10*time.Second, cfg.Listen.ReadTimeout)
	assert.Equal(t, int64(16384), cfg.Listen.MaxHeaderBytes)
	assert.Equal(t, int64(0), cfg.Listen.MaxConnections)

	assert.Equal(t, "file", cfg.Blocklist.Source)
	assert.Equal(t, "blocked_domains.txt", cfg.Blocklist.File)
	assert.Equal(t, "plain", cfg.Blocklist.Format)
	assert.Equal(t, int64(16<<20), cfg.Blocklist.MaxBytes)
	assert.Equal(t, "interval", cfg.Blocklist.Reload.Mode)
	assert.Equal(t, 5*time.Second, cfg.Blocklist.Reload.Interval)
	assert.Equal(t, 4096, cfg.Blocklist.CacheSize)
	assert.InDelta(t, 0.01, cfg.Blocklist.BloomFPRate, 1e-12)

	assert.Equal(t, "allow", cfg.Admission.OnUnparsable)
	assert.Equal(t, 10*time.Second, cfg.Upstream.DialTimeout)
	assert.Empty(t, cfg.Upstream.SOCKS5)
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("PROXY_ENV", "dev")
	t.Setenv("PROXY_LOG_LEVEL", "debug")
	t.Setenv("PROXY_LISTEN_ADDRESS", ":8080")
	t.Setenv("PROXY_LISTEN_READ_TIMEOUT", "2s")
	t.Setenv("PROXY_LISTEN_MAX_HEADER_BYTES", "8192")
	t.Setenv("PROXY_LISTEN_MAX_CONNECTIONS", "64")
	t.Setenv("PROXY_BLOCKLIST_FILE", "/etc/rr-proxy/blocked.txt")
	t.Setenv("PROXY_BLOCKLIST_FORMAT", "hosts")
	t.Setenv("PROXY_BLOCKLIST_RELOAD_MODE", "watch")
	t.Setenv("PROXY_BLOCKLIST_RELOAD_INTERVAL", "1m")
	t.Setenv("PROXY_BLOCKLIST_CACHE_SIZE", "0")
	t.Setenv("PROXY_BLOCKLIST_BLOOM_FP_RATE", "0.001")
	t.Setenv("PROXY_ADMISSION_ON_UNPARSABLE", "reject")
	t.Setenv("PROXY_UPSTREAM_DIAL_TIMEOUT", "3s")
	t.Setenv("PROXY_UPSTREAM_SOCKS5", "127.0.0.1:1080")
	t.Setenv("PROXY_UPSTREAM_BYPASS", "localhost,10.0.0.0/8")
	t.Setenv("PROXY_SOMETHING_UNKNOWN", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Listen.Address)
	assert.Equal(t, 2*time.Second, cfg.Listen.ReadTimeout)
	assert.Equal(t, int64(8192), cfg.Listen.MaxHeaderBytes)
	assert.Equal(t, int64(64), cfg.Listen.MaxConnections)
	assert.Equal(t, "/etc/rr-proxy/blocked.txt", cfg.Blocklist.File)
	assert.Equal(t, "hosts", cfg.Blocklist.Format)
	assert.Equal(t, "watch", cfg.Blocklist.Reload.Mode)
	assert.Equal(t, time.Minute, cfg.Blocklist.Reload.Interval)
	assert.Equal(t, 0, cfg.Blocklist.CacheSize)
	assert.InDelta(t, 0.001, cfg.Blocklist.BloomFPRate, 1e-12)
	assert.Equal(t, "reject", cfg.Admission.OnUnparsable)
	assert.Equal(t, 3*time.Second, cfg.Upstream.DialTimeout)
	assert.Equal(t, "127.0.0.1:1080", cfg.Upstream.SOCKS5)
	assert.Equal(t, "localhost,10.0.0.0/8", cfg.Upstream.Bypass)
}

func TestLoad_S3Source(t *testing.T) {
	t.Setenv("PROXY_BLOCKLIST_SOURCE", "s3")
	_, err := Load("")
	require.Error(t, err, "bucket and key are required for s3")
	assert.Contains(t, err.Error(), "Bucket")

	t.Setenv("PROXY_BLOCKLIST_S3_BUCKET", "lists")
	t.Setenv("PROXY_BLOCKLIST_S3_KEY", "proxy/blocked.txt")
	t.Setenv("PROXY_BLOCKLIST_S3_REGION", "us-east-2")
	t.Setenv("PROXY_BLOCKLIST_S3_ENDPOINT", "http://127.0.0.1:9000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "lists", cfg.Blocklist.S3.Bucket)
	assert.Equal(t, "proxy/blocked.txt", cfg.Blocklist.S3.Key)
	assert.Equal(t, "us-east-2", cfg.Blocklist.S3.Region)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Blocklist.S3.Endpoint)

	t.Setenv("PROXY_BLOCKLIST_S3_ACCESS_KEY_ID", "AKIA")
	_, err = Load("")
	assert.Error(t, err, "secret is required with an access key")
}

func TestLoad_PerRequestModeNeedsNoInterval(t *testing.T) {
	t.Setenv("PROXY_BLOCKLIST_RELOAD_MODE", "request")
	t.Setenv("PROXY_BLOCKLIST_RELOAD_INTERVAL", "0s")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "request", cfg.Blocklist.Reload.Mode)

	t.Setenv("PROXY_BLOCKLIST_RELOAD_MODE", "interval")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env, value string
	}{
		{"PROXY_ENV", "staging"},
		{"PROXY_LOG_LEVEL", "verbose"},
		{"PROXY_LISTEN_ADDRESS", "localhost"},
		{"PROXY_LISTEN_ADDRESS", "127.0.0.1:70000"},
		{"PROXY_LISTEN_READ_TIMEOUT", "0s"},
		{"PROXY_LISTEN_MAX_HEADER_BYTES", "10"},
		{"PROXY_LISTEN_MAX_CONNECTIONS", "-1"},
		{"PROXY_BLOCKLIST_SOURCE", "http"},
		{"PROXY_BLOCKLIST_FILE", ""},
		{"PROXY_BLOCKLIST_FORMAT", "adblock"},
		{"PROXY_BLOCKLIST_RELOAD_MODE", "sometimes"},
		{"PROXY_BLOCKLIST_RELOAD_INTERVAL", "-5s"},
		{"PROXY_BLOCKLIST_CACHE_SIZE", "-5"},
		{"PROXY_BLOCKLIST_BLOOM_FP_RATE", "1.5"},
		{"PROXY_ADMISSION_ON_UNPARSABLE", "maybe"},
		{"PROXY_UPSTREAM_SOCKS5", "not-an-address"},
		{"PROXY_UPSTREAM_SOCKS5", "127.0.0.1:0"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_NotANumber(t *testing.T) {
	t.Setenv("PROXY_LISTEN_MAX_CONNECTIONS", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unmarshalling"), err.Error())
}

func TestLoad_ConfigFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"proxy.yaml": "listen:\n  address: 0.0.0.0:3129\nblocklist:\n  reload:\n    mode: watch\n",
		"proxy.json": `{"listen":{"address":"0.0.0.0:3129"},"blocklist":{"reload":{"mode":"watch"}}}`,
		"proxy.toml": "[listen]\naddress = \"0.0.0.0:3129\"\n[blocklist.reload]\nmode = \"watch\"\n",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "0.0.0.0:3129", cfg.Listen.Address)
			assert.Equal(t, "watch", cfg.Blocklist.Reload.Mode)
			// untouched keys keep their defaults
			assert.Equal(t, 5*time.Second, cfg.Blocklist.Reload.Interval)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	t.Setenv("PROXY_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load("proxy.ini")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading default config")
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading env")
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error registering validation")
}

func TestValidHostPort(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("host_port", validHostPort))

	valid := []string{"127.0.0.1:3128", ":3128", "localhost:80", "[::1]:8080", "proxy.internal:1080"}
	for _, s := range valid {
		assert.NoError(t, v.Var(s, "host_port"), s)
	}
	invalid := []string{"", "localhost", "127.0.0.1:", "127.0.0.1:0", "host:99999", "a b:80", "::1"}
	for _, s := range invalid {
		assert.Error(t, v.Var(s, "host_port"), s)
	}
}

func TestValidListenAddr(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("listen_addr", validListenAddr))

	for _, s := range []string{"127.0.0.1:0", ":0", "127.0.0.1:3128", "[::1]:0"} {
		assert.NoError(t, v.Var(s, "listen_addr"), s)
	}
	for _, s := range []string{"", "127.0.0.1", "127.0.0.1:", "host:65536", "a b:0"} {
		assert.Error(t, v.Var(s, "listen_addr"), s)
	}
}

func TestLoad_EphemeralListenPort(t *testing.T) {
	t.Setenv("PROXY_LISTEN_ADDRESS", "127.0.0.1:0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Listen.Address)
}

func TestLoad_NegativeIntervalRejectedInEveryMode(t *testing.T) {
	for _, mode := range []string{"request", "interval", "watch"} {
		t.Run(mode, func(t *testing.T) {
			t.Setenv("PROXY_BLOCKLIST_RELOAD_MODE", mode)
			t.Setenv("PROXY_BLOCKLIST_RELOAD_INTERVAL", "-5s")
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestEnvKeysAreUnderPrefix(t *testing.T) {
	for name := range envKeys {
		assert.True(t, strings.HasPrefix(name, envPrefix), name)
	}
}
