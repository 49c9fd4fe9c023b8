package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	var c GatewayConfig
	c.SetDefaults()
	c.Finalize()
	if c.Port != 8080 || c.MetricsAddr != ":8080" || c.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.ConfigEndpoint != DefaultConfigEndpoint || c.FetchTimeout != 10*time.Second || c.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `port: 9000
config_endpoint: https://cfg.example/clients/
allowed_origins: [https://a.example]
fetch_timeout: 3s
log_level: warn
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example, https://c.example")
	t.Setenv("METRICS_PORT", "9100")

	var c GatewayConfig
	c.SetDefaults()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	c.ApplyEnv()
	fs := flag.NewFlagSet("detpay", flag.ContinueOnError)
	c.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--port", "9001", "--request-timeout", "2.5"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.Port != 9001 {
		t.Fatalf("flag did not override port: %d", c.Port)
	}
	if c.LogLevel != "debug" {
		t.Fatalf("env did not override file: %s", c.LogLevel)
	}
	if c.ConfigEndpoint != "https://cfg.example/clients/" || c.FetchTimeout != 3*time.Second {
		t.Fatalf("file values lost: %+v", c)
	}
	if strings.Join(c.AllowedOrigins, ",") != "https://b.example,https://c.example" {
		t.Fatalf("origins = %v", c.AllowedOrigins)
	}
	if c.MetricsAddr != ":9100" || c.RequestTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestMetricsAddrFollowsPort(t *testing.T) {
	var c GatewayConfig
	c.SetDefaults()
	c.ApplyEnv()
	fs := flag.NewFlagSet("detpay", flag.ContinueOnError)
	c.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--port", "9000", "--api-key", "sekret"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	c.Finalize()
	if c.MetricsAddr != ":9000" {
		t.Fatalf("metrics addr = %q, want :9000", c.MetricsAddr)
	}
	if c.APIKey != "sekret" {
		t.Fatalf("api key = %q", c.APIKey)
	}

	t.Setenv("PORT", "9200")
	t.Setenv("API_KEY", "env-key")
	var e GatewayConfig
	e.SetDefaults()
	e.ApplyEnv()
	e.Finalize()
	if e.MetricsAddr != ":9200" || e.APIKey != "env-key" {
		t.Fatalf("unexpected %+v", e)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{name: "linux", goos: "linux", home: "/home/user", want: "/etc/detpay/gateway.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/detpay/gateway.yaml"},
		{name: "windows", goos: "windows", programData: "C:\\ProgramData", want: "C:/ProgramData/detpay/gateway.yaml"},
		{name: "windows default ProgramData", goos: "windows", want: "C:/ProgramData/detpay/gateway.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.ReplaceAll(ResolveConfigPath(tt.goos, tt.home, tt.programData, "gateway.yaml"), "\\", "/")
			if got != tt.want {
				t.Errorf("config path: got %q want %q", got, tt.want)
			}
		})
	}
}
