package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig is the full rr-proxy configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env       string          `koanf:"env" validate:"required,oneof=dev prod"`
	Log       LogConfig       `koanf:"log"`
	Listen    ListenConfig    `koanf:"listen"`
	Blocklist BlocklistConfig `koanf:"blocklist"`
	Admission AdmissionConfig `koanf:"admission"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ListenConfig configures the proxy listener.
type ListenConfig struct {
	Address        string        `koanf:"address" validate:"required,listen_addr"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	MaxHeaderBytes int64         `koanf:"max_header_bytes" validate:"gte=1024"`
	// MaxConnections caps concurrent client connections; 0 is unlimited.
	MaxConnections int64 `koanf:"max_connections" validate:"gte=0"`
}

// BlocklistConfig configures where the list comes from and how it is refreshed.
type BlocklistConfig struct {
	Source string `koanf:"source" validate:"required,oneof=file s3"`
	File   string `koanf:"file" validate:"required_if=Source file"`
	// Format is "plain" (one domain per line) or "hosts" (hosts-file syntax).
	Format      string       `koanf:"format" validate:"required,oneof=plain hosts"`
	MaxBytes    int64        `koanf:"max_bytes" validate:"gt=0"`
	S3          S3Config     `koanf:"s3"`
	Reload      ReloadConfig `koanf:"reload"`
	CacheSize   int          `koanf:"cache_size" validate:"gte=0"`
	BloomFPRate float64      `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

// S3Config locates a blocklist object. Bucket and key are required when
// the source is s3.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Key             string `koanf:"key"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key" validate:"required_with=AccessKeyID"`
}

type ReloadConfig struct {
	Mode     string        `koanf:"mode" validate:"required,oneof=request interval watch"`
	Interval time.Duration `koanf:"interval" validate:"required_unless=Mode request,gte=0"`
}

type AdmissionConfig struct {
	// OnUnparsable is "allow" (fail open) or "reject".
	OnUnparsable string `koanf:"on_unparsable" validate:"required,oneof=allow reject"`
}

type UpstreamConfig struct {
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	SOCKS5      string        `koanf:"socks5" validate:"omitempty,host_port"`
	Bypass      string        `koanf:"bypass"`
}

// DEFAULT_APP_CONFIG defines the defaults every other layer overrides.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LogConfig{Level: "info"},
	Listen: ListenConfig{
		Address:        "127.0.0.1:3128",
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 16 << 10,
		MaxConnections: 0,
	},
	Blocklist: BlocklistConfig{
		Source:   "file",
		File:     "blocked_domains.txt",
		Format:   "plain",
		MaxBytes: 16 << 20,
		Reload: ReloadConfig{
			Mode:     "interval",
			Interval: 5 * time.Second,
		},
		CacheSize:   4096,
		BloomFPRate: 0.01,
	},
	Admission: AdmissionConfig{OnUnparsable: "allow"},
	Upstream: UpstreamConfig{
		DialTimeout: 10 * time.Second,
	},
}

// envPrefix scopes the environment variables read by envLoader.
const envPrefix = "PROXY_"

// envKeys maps environment variable names onto configuration keys. Keys
// contain underscores, so names cannot be split mechanically.
var envKeys = map[string]string{
	"PROXY_ENV":                            "env",
	"PROXY_LOG_LEVEL":                      "log.level",
	"PROXY_LISTEN_ADDRESS":                 "listen.address",
	"PROXY_LISTEN_READ_TIMEOUT":            "listen.read_timeout",
	"PROXY_LISTEN_MAX_HEADER_BYTES":        "listen.max_header_bytes",
	"PROXY_LISTEN_MAX_CONNECTIONS":         "listen.max_connections",
	"PROXY_BLOCKLIST_SOURCE":               "blocklist.source",
	"PROXY_BLOCKLIST_FILE":                 "blocklist.file",
	"PROXY_BLOCKLIST_FORMAT":               "blocklist.format",
	"PROXY_BLOCKLIST_MAX_BYTES":            "blocklist.max_bytes",
	"PROXY_BLOCKLIST_S3_BUCKET":            "blocklist.s3.bucket",
	"PROXY_BLOCKLIST_S3_KEY":               "blocklist.s3.key",
	"PROXY_BLOCKLIST_S3_REGION":            "blocklist.s3.region",
	"PROXY_BLOCKLIST_S3_ENDPOINT":          "blocklist.s3.endpoint",
	"PROXY_BLOCKLIST_S3_ACCESS_KEY_ID":     "blocklist.s3.access_key_id",
	"PROXY_BLOCKLIST_S3_SECRET_ACCESS_KEY": "blocklist.s3.secret_access_key",
	"PROXY_BLOCKLIST_RELOAD_MODE":          "blocklist.reload.mode",
	"PROXY_BLOCKLIST_RELOAD_INTERVAL":      "blocklist.reload.interval",
	"PROXY_BLOCKLIST_CACHE_SIZE":           "blocklist.cache_size",
	"PROXY_BLOCKLIST_BLOOM_FP_RATE":        "blocklist.bloom_fp_rate",
	"PROXY_ADMISSION_ON_UNPARSABLE":        "admission.on_unparsable",
	"PROXY_UPSTREAM_DIAL_TIMEOUT":          "upstream.dial_timeout",
	"PROXY_UPSTREAM_SOCKS5":                "upstream.socks5",
	"PROXY_UPSTREAM_BYPASS":                "upstream.bypass",
}

// validHostPort accepts "host:port" where host may be empty (all
// interfaces), a name, or an IP literal, and port is 1-65535.
func validHostPort(fl validator.FieldLevel) bool {
	return checkHostPort(fl.Field().String(), false)
}

// validListenAddr is validHostPort that also accepts port 0, which binds an
// ephemeral port.
func validListenAddr(fl validator.FieldLevel) bool {
	return checkHostPort(fl.Field().String(), true)
}

func checkHostPort(addr string, allowZero bool) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if strings.ContainsAny(host, " \t/") {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && (portNum > 0 || allowZero)
}

// validateBlocklistSource requires bucket and key for the s3 source.
func validateBlocklistSource(sl validator.StructLevel) {
	b := sl.Current().Interface().(BlocklistConfig)
	if b.Source != "s3" {
		return
	}
	if b.S3.Bucket == "" {
		sl.ReportError(b.S3.Bucket, "S3.Bucket", "Bucket", "required_if", "Source s3")
	}
	if b.S3.Key == "" {
		sl.ReportError(b.S3.Key, "S3.Key", "Key", "required_if", "Source s3")
	}
}

// envLoader loads PROXY_* environment variables listed in envKeys. Unknown
// variables with the prefix are ignored.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeys[key]
			if !ok {
				return "", nil
			}
			return mapped, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads an optional config file, choosing the parser by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the custom "host_port" and "listen_addr" tags and the
// blocklist source rules.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("host_port", validHostPort); err != nil {
		return err
	}
	if err := v.RegisterValidation("listen_addr", validListenAddr); err != nil {
		return err
	}
	v.RegisterStructValidation(validateBlocklistSource, BlocklistConfig{})
	return nil
}

// Load builds the configuration from defaults, then the optional file at
// path, then the environment, and validates the result.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = fileLoader(k, path)
	if err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
