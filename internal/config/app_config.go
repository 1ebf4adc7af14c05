package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when neither the config file nor the environment
// set a value.
const (
	DefaultPort         = 8000
	DefaultIndexFile    = "index.html"
	DefaultStaticPrefix = "/static"
	DefaultLogLevel     = "info"
	DefaultRateBurst    = 20
)

// AppConfig holds all application-level configuration. Values come from an
// optional YAML file, then environment variables, then CLI flags.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 8000.
	Port int `envconfig:"PORT" yaml:"port"`

	// Host is the interface to bind. Empty binds all interfaces.
	Host string `envconfig:"PENDULUM_HOST" yaml:"host"`

	// FrontendDir is the directory served under StaticPrefix.
	// Empty means the frontend embedded in the binary.
	FrontendDir string `envconfig:"PENDULUM_FRONTEND_DIR" yaml:"frontend_dir"`

	// IndexFile is the file returned for GET /, relative to the frontend root.
	IndexFile string `envconfig:"PENDULUM_INDEX_FILE" yaml:"index_file"`

	// StaticPrefix is the URL prefix the frontend is mounted under. The bundled
	// index.html links /static/style.css and /static/app.js, so a different
	// prefix needs a frontend built for it.
	StaticPrefix string `envconfig:"PENDULUM_STATIC_PREFIX" yaml:"static_prefix"`

	// DataDir is the root data directory. Defaults to ~/.pendulum.
	DataDir string `envconfig:"PENDULUM_DATA_DIR" yaml:"data_dir"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" yaml:"log_level"`

	// AccessLog enables the rotated access log in LogDir.
	AccessLog bool `envconfig:"PENDULUM_ACCESS_LOG" yaml:"access_log"`

	// CORSOrigins lists the origins allowed to fetch assets cross-origin.
	// Empty disables CORS handling.
	CORSOrigins []string `envconfig:"PENDULUM_CORS_ORIGINS" yaml:"cors_origins"`

	// TrustedProxies lists reverse proxies (IPs or CIDRs) allowed to set the
	// client address through X-Forwarded-For or X-Real-IP.
	TrustedProxies []string `envconfig:"PENDULUM_TRUSTED_PROXIES" yaml:"trusted_proxies"`

	// RateLimit is the per-client request rate in requests/second. 0 disables it.
	RateLimit float64 `envconfig:"PENDULUM_RATE_LIMIT" yaml:"rate_limit"`

	// RateBurst is the per-client burst size when RateLimit is set.
	RateBurst int `envconfig:"PENDULUM_RATE_BURST" yaml:"rate_burst"`

	// DisableMetrics turns off the /metrics endpoint and request instrumentation.
	DisableMetrics bool `envconfig:"PENDULUM_DISABLE_METRICS" yaml:"disable_metrics"`

	// OTLPEndpoint is the OTLP/gRPC collector URL (e.g. http://localhost:4317).
	// Empty disables trace, metric and log export.
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint"`

	// Watch logs changes under FrontendDir. Ignored for the embedded frontend.
	Watch bool `envconfig:"PENDULUM_WATCH" yaml:"watch"`
}

// Load reads AppConfig from the YAML file at path (skipped when path is empty),
// overlays environment variables and fills the remaining defaults.
// The result is validated.
func Load(path string) (*AppConfig, error) {
	var c AppConfig
	if path != "" {
		//nolint:gosec // path is supplied by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) applyDefaults() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.IndexFile == "" {
		c.IndexFile = DefaultIndexFile
	}
	if c.StaticPrefix == "" {
		c.StaticPrefix = DefaultStaticPrefix
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.RateBurst == 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".pendulum")
	}
	return nil
}

// Validate normalizes StaticPrefix and reports the first invalid field.
func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}

	prefix := strings.TrimRight(c.StaticPrefix, "/")
	switch {
	case !strings.HasPrefix(c.StaticPrefix, "/"):
		return fmt.Errorf("invalid static prefix %q: must start with /", c.StaticPrefix)
	case prefix == "":
		return fmt.Errorf("invalid static prefix %q: must not be the site root", c.StaticPrefix)
	case strings.ContainsAny(prefix, "*{}"):
		return fmt.Errorf("invalid static prefix %q: must not contain route patterns", c.StaticPrefix)
	}
	c.StaticPrefix = prefix

	if !fs.ValidPath(c.IndexFile) || c.IndexFile == "." || strings.Contains(c.IndexFile, `\`) {
		return fmt.Errorf("invalid index file %q: must be a relative path inside the frontend directory", c.IndexFile)
	}

	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("invalid rate burst %d: must be at least 1", c.RateBurst)
	}

	for _, p := range c.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			return fmt.Errorf("invalid trusted proxy %q: must be an IP address or CIDR", p)
		}
	}

	if c.OTLPEndpoint != "" {
		u, err := url.Parse(c.OTLPEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid OTLP endpoint %q: must be an http(s) URL", c.OTLPEndpoint)
		}
	}
	return nil
}

func validProxy(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Addr returns the listen address for the HTTP server.
func (c *AppConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LogDir returns the path to the log directory (~/.pendulum/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SystemLogFile returns the path of the structured application log.
func (c *AppConfig) SystemLogFile() string {
	return filepath.Join(c.LogDir(), "system.log")
}

// AccessLogFile returns the path of the HTTP access log.
func (c *AppConfig) AccessLogFile() string {
	return filepath.Join(c.LogDir(), "access.log")
}
