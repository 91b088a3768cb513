// Package config loads the server settings from command line flags, with
// MINIHTTPD_* environment variables taking precedence.
package config

import (
	"flag"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MINIHTTPD_"

type Config struct {
	Network    string
	Addr       string
	WebRoot    string
	UploadRoot string
	DBPath     string

	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64
	MaxUploadBytes int64
	MaxConns       int

	// IOBackend is "std" or "uring".
	IOBackend string

	LogLevel  string
	LogFormat string

	// AdminAddr enables the admin listener when not empty.
	AdminAddr string
}

// Default returns the settings used when nothing is overridden
func Default() *Config {
	return &Config{
		Network:        "tcp",
		Addr:           ":8080",
		WebRoot:        "www",
		UploadRoot:     "uploads",
		DBPath:         "server_db.sqlite",
		IdleTimeout:    5 * time.Second,
		MaxHeaderBytes: 8192,
		MaxBodyBytes:   1 << 20,
		MaxUploadBytes: 500 << 20,
		MaxConns:       0,
		IOBackend:      "std",
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load parses args (without the program name) and then applies environment
// overrides looked up through getenv.
func Load(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("minihttpd", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.Network, "network", cfg.Network, "listen network: tcp or unix")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (host:port or socket path)")
	fs.StringVar(&cfg.WebRoot, "webroot", cfg.WebRoot, "directory with static assets")
	fs.StringVar(&cfg.UploadRoot, "uploads", cfg.UploadRoot, "directory for uploaded files")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "read timeout for idle connections")
	fs.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", cfg.MaxHeaderBytes, "maximum size of a request head")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "maximum buffered request body")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "maximum upload size")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "maximum concurrent connections, 0 for unbounded")
	fs.StringVar(&cfg.IOBackend, "io", cfg.IOBackend, "I/O backend: std or uring")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin listen address, empty to disable")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}

	strs := map[string]*string{
		"NETWORK":    &c.Network,
		"ADDR":       &c.Addr,
		"WEBROOT":    &c.WebRoot,
		"UPLOADS":    &c.UploadRoot,
		"DB":         &c.DBPath,
		"IO":         &c.IOBackend,
		"LOG_LEVEL":  &c.LogLevel,
		"LOG_FORMAT": &c.LogFormat,
		"ADMIN_ADDR": &c.AdminAddr,
	}
	for name, dst := range strs {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := getenv(EnvPrefix + "IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sIDLE_TIMEOUT", EnvPrefix)
		}
		c.IdleTimeout = d
	}

	ints := map[string]*int{
		"MAX_HEADER_BYTES": &c.MaxHeaderBytes,
		"MAX_CONNS":        &c.MaxConns,
	}
	for name, dst := range ints {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, name)
			}
			*dst = n
		}
	}

	int64s := map[string]*int64{
		"MAX_BODY_BYTES":   &c.MaxBodyBytes,
		"MAX_UPLOAD_BYTES": &c.MaxUploadBytes,
	}
	for name, dst := range int64s {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, name)
			}
			*dst = n
		}
	}

	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Network {
	case "tcp", "unix":
	default:
		return errors.Errorf("unsupported network %q", c.Network)
	}
	switch c.IOBackend {
	case "std", "uring":
	default:
		return errors.Errorf("unsupported io backend %q", c.IOBackend)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxHeaderBytes <= 0 || c.MaxBodyBytes <= 0 || c.MaxUploadBytes <= 0 {
		return errors.New("size limits must be positive")
	}
	if c.MaxConns < 0 {
		return errors.New("max conns must not be negative")
	}
	return nil
}
