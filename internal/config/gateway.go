// Package config resolves gateway settings from defaults, a YAML file, the
// environment and command line flags, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigEndpoint is the configuration API queried for client details.
const DefaultConfigEndpoint = "http://localhost:3000/clients/"

// GatewayConfig holds configuration for the detpay gateway.
type GatewayConfig struct {
	Port            int           `yaml:"port"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ConfigEndpoint  string        `yaml:"config_endpoint"`
	FrameBaseURL    string        `yaml:"frame_base_url"`
	RedirectBaseURL string        `yaml:"redirect_base_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ClientsFile     string        `yaml:"clients_file"`
	RedisAddr       string        `yaml:"redis_addr"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SurfaceTTL      time.Duration `yaml:"surface_ttl"`
	LogLevel        string        `yaml:"log_level"`
	APIKey          string        `yaml:"api_key"`
	ConfigFile      string        `yaml:"-"`
}

// SetDefaults initializes c with built-in defaults.
func (c *GatewayConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ConfigEndpoint == "" {
		c.ConfigEndpoint = DefaultConfigEndpoint
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.SurfaceTTL == 0 {
		c.SurfaceTTL = 30 * time.Minute
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("gateway.yaml")
	}
}

// Finalize resolves defaults that depend on other settings. Call it once env
// and flags have been applied.
func (c *GatewayConfig) Finalize() {
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *GatewayConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = metricsAddr(v)
	}
	if v := GetEnv("CONFIG_ENDPOINT", ""); v != "" {
		c.ConfigEndpoint = v
	}
	if v := GetEnv("FRAME_BASE_URL", ""); v != "" {
		c.FrameBaseURL = v
	}
	if v := GetEnv("REDIRECT_BASE_URL", ""); v != "" {
		c.RedirectBaseURL = v
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("CLIENTS_FILE", ""); v != "" {
		c.ClientsFile = v
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("FETCH_TIMEOUT", ""); v != "" {
		if d, ok := seconds(v); ok {
			c.FetchTimeout = d
		}
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, ok := seconds(v); ok {
			c.RequestTimeout = d
		}
	}
	if v := GetEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("SURFACE_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SurfaceTTL = d
		}
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current config
// values as defaults.
func (c *GatewayConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "gateway config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = metricsAddr(v)
		return nil
	})
	fs.StringVar(&c.ConfigEndpoint, "config-endpoint", c.ConfigEndpoint, "client configuration API base URL")
	fs.StringVar(&c.FrameBaseURL, "frame-base-url", c.FrameBaseURL, "default base destination of the embedded frame")
	fs.StringVar(&c.RedirectBaseURL, "redirect-base-url", c.RedirectBaseURL, "default base destination of the redirect")
	fs.StringVar(&c.ClientsFile, "clients-file", c.ClientsFile, "YAML file of client configurations served at /clients/{id}")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for client configurations")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.Func("fetch-timeout", "configuration fetch timeout in seconds", func(v string) error {
		d, ok := seconds(v)
		if !ok {
			return fmt.Errorf("invalid seconds %q", v)
		}
		c.FetchTimeout = d
		return nil
	})
	fs.Func("request-timeout", "time in seconds an embed request waits for its surface to settle", func(v string) error {
		d, ok := seconds(v)
		if !ok {
			return fmt.Errorf("invalid seconds %q", v)
		}
		c.RequestTimeout = d
		return nil
	})
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key required by the /surfaces endpoints; empty disables the check")
	fs.DurationVar(&c.SurfaceTTL, "surface-ttl", c.SurfaceTTL, "idle time after which a rendered surface is detached")
}

// LoadFile populates the config from a YAML file.
func (c *GatewayConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func metricsAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func seconds(v string) (time.Duration, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
