package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"hub/cmd/internal/migrations"
)

// Config contains all runtime configuration.
//
// Values come from DefaultConfig, then an optional TOML file, then HUB_*
// environment variables. The environment always wins.
type Config struct {
	HTTPAddr  string `toml:"http_addr"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	MaxHeaderBytes    int           `toml:"max_header_bytes"`

	DatabaseURL string `toml:"database_url"`
	DBSchema    string `toml:"db_schema"`
	DBMaxConns  int32  `toml:"db_max_conns"`
	DBMinConns  int32  `toml:"db_min_conns"`
	AutoMigrate bool   `toml:"auto_migrate"`

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `toml:"readiness_require_db"`

	// DevMode allows running on in-memory stores with an ephemeral signing
	// key when no database is configured.
	DevMode bool `toml:"dev_mode"`

	// If true, HUB_TOKEN_HMAC_KEY must be set and stored token hashes are keyed.
	RequireTokenHMAC bool `toml:"require_token_hmac"`

	CORSAllowedOrigins   []string `toml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `toml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `toml:"cors_max_age_seconds"`

	MetricsEnabled bool   `toml:"metrics_enabled"`
	MetricsPath    string `toml:"metrics_path"`

	LoginPath          string        `toml:"login_path"`
	GateResolveTimeout time.Duration `toml:"gate_resolve_timeout"`
	GateRenderBudget   time.Duration `toml:"gate_render_budget"`

	SessionSweepInterval time.Duration `toml:"session_sweep_interval"`

	NATSURL string `toml:"nats_url"`

	ExportBucket   string        `toml:"export_bucket"`
	ExportKey      string        `toml:"export_key"`
	ExportRegion   string        `toml:"export_region"`
	ExportEndpoint string        `toml:"export_endpoint"`
	ExportInterval time.Duration `toml:"export_interval"`

	BootstrapOwnerEmail    string `toml:"bootstrap_owner_email"`
	BootstrapOwnerPassword string `toml:"-"`
}

var logFormats = map[string]bool{"json": true, "pretty": true, "auto": true}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "auto",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBSchema:    migrations.DefaultSchema,
		DBMaxConns:  10,
		AutoMigrate: true,

		CORSMaxAgeSeconds: 600,

		MetricsEnabled: true,
		MetricsPath:    "/metrics",

		LoginPath:          "/login",
		GateResolveTimeout: 10 * time.Second,
		GateRenderBudget:   2 * time.Second,

		SessionSweepInterval: time.Minute,

		ExportKey:      "exports/hub-{ts}.jsonl",
		ExportInterval: 24 * time.Hour,
	}
}

// LoadConfig builds the runtime Config. path may be empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return Config{}, fmt.Errorf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c Config) Config {
	c.HTTPAddr = EnvString("HUB_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("HUB_LOG_LEVEL", c.LogLevel)
	c.LogFormat = strings.ToLower(EnvString("HUB_LOG_FORMAT", c.LogFormat))

	c.ReadHeaderTimeout = EnvDuration("HUB_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("HUB_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("HUB_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("HUB_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = EnvDuration("HUB_HTTP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MaxHeaderBytes = EnvInt("HUB_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.DatabaseURL = EnvString("HUB_DATABASE_URL", c.DatabaseURL)
	c.DBSchema = EnvString("HUB_DB_SCHEMA", c.DBSchema)
	c.DBMaxConns = EnvInt32("HUB_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("HUB_DB_MIN_CONNS", c.DBMinConns)
	c.AutoMigrate = EnvBool("HUB_DB_AUTO_MIGRATE", c.AutoMigrate)

	c.ReadinessRequireDB = EnvBool("HUB_READINESS_REQUIRE_DB", c.ReadinessRequireDB)
	c.DevMode = EnvBool("HUB_DEV_MODE", c.DevMode)
	c.RequireTokenHMAC = EnvBool("HUB_REQUIRE_TOKEN_HMAC", c.RequireTokenHMAC)

	c.CORSAllowedOrigins = EnvCSV("HUB_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("HUB_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("HUB_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	c.MetricsEnabled = EnvBool("HUB_METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsPath = EnvString("HUB_METRICS_PATH", c.MetricsPath)

	c.LoginPath = EnvString("HUB_LOGIN_PATH", c.LoginPath)
	c.GateResolveTimeout = EnvDuration("HUB_GATE_RESOLVE_TIMEOUT", c.GateResolveTimeout)
	c.GateRenderBudget = EnvDuration("HUB_GATE_RENDER_BUDGET", c.GateRenderBudget)

	c.SessionSweepInterval = EnvDuration("HUB_SESSION_SWEEP_INTERVAL", c.SessionSweepInterval)

	c.NATSURL = EnvString("HUB_NATS_URL", c.NATSURL)

	c.ExportBucket = EnvString("HUB_EXPORT_BUCKET", c.ExportBucket)
	c.ExportKey = EnvString("HUB_EXPORT_KEY", c.ExportKey)
	c.ExportRegion = EnvString("HUB_EXPORT_REGION", c.ExportRegion)
	c.ExportEndpoint = EnvString("HUB_EXPORT_ENDPOINT", c.ExportEndpoint)
	c.ExportInterval = EnvDuration("HUB_EXPORT_INTERVAL", c.ExportInterval)

	c.BootstrapOwnerEmail = EnvString("HUB_BOOTSTRAP_OWNER_EMAIL", c.BootstrapOwnerEmail)
	c.BootstrapOwnerPassword = EnvString("HUB_BOOTSTRAP_OWNER_PASSWORD", c.BootstrapOwnerPassword)
	return c
}

// Validate reports configuration that cannot start a server.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is empty"))
	}
	if !logFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q: want json, pretty or auto", c.LogFormat))
	}
	if c.DatabaseURL == "" && !c.DevMode {
		errs = append(errs, errors.New("HUB_DATABASE_URL is required unless HUB_DEV_MODE=true"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("db_min_conns %d exceeds db_max_conns %d", c.DBMinConns, c.DBMaxConns))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("login_path %q must be an absolute path", c.LoginPath))
	}
	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("metrics_path %q must be an absolute path", c.MetricsPath))
	}
	if (c.BootstrapOwnerEmail == "") != (c.BootstrapOwnerPassword == "") {
		errs = append(errs, errors.New("bootstrap owner needs both HUB_BOOTSTRAP_OWNER_EMAIL and HUB_BOOTSTRAP_OWNER_PASSWORD"))
	}
	return errors.Join(errs...)
}

// ExportEnabled reports whether a periodic export destination is configured.
func (c Config) ExportEnabled() bool { return strings.TrimSpace(c.ExportBucket) != "" }
