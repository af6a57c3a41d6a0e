package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/permitstream/harvester/internal/permit"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
fetch:
  user_agent: permit-agent
  timeout_seconds: 45
  max_retries: 4
  host_rps: 0.5
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
session:
  page_size: 500
  lookback_days: 30
  max_records: 2000
  state: TX
scheduler:
  max_pacing_seconds: 600
storage:
  output_dir: out
  gcs_bucket: bucket
targets:
  - name: austin
    priority: 3
    endpoints:
      - name: arcgis-main
        kind: arcgis
        url: https://gis.austin.gov/FeatureServer/0/query
    discovery:
      enabled: true
      fallback_pages: ["https://austin.gov/gis"]
  - name: dallas
    priority: 1
    endpoints:
      - name: socrata-main
        kind: socrata
        url: https://data.dallas.gov/resource/abcd-1234.json
routing:
  round_rock:
    route_to: austin
    reason: feed consolidated
    fallback_count: 12
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Fetch.UserAgent != "permit-agent" || cfg.Fetch.MaxRetries != 4 {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if cfg.Session.PageSize != 500 || cfg.Session.State != "TX" {
		t.Fatalf("expected session overrides to apply: %+v", cfg.Session)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	austin := cfg.Targets[0]
	if austin.Name != "austin" || austin.Priority != 3 {
		t.Fatalf("expected austin target, got %+v", austin)
	}
	if len(austin.Endpoints) != 1 || austin.Endpoints[0].Kind != permit.KindArcGIS {
		t.Fatalf("expected arcgis endpoint, got %+v", austin.Endpoints)
	}
	if !austin.Discovery.Enabled || len(austin.Discovery.FallbackPages) != 1 {
		t.Fatalf("expected discovery config, got %+v", austin.Discovery)
	}
	route, ok := cfg.Routing["round_rock"]
	if !ok || route.RouteTo != "austin" || route.FallbackCount != 12 {
		t.Fatalf("expected routing entry, got %+v", cfg.Routing)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.MaxPacing(); got != 10*time.Minute {
		t.Fatalf("expected 10m pacing ceiling, got %v", got)
	}
	if got := cfg.PagePause(); got != 500*time.Millisecond {
		t.Fatalf("expected default page pause, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Fetch:  FetchConfig{TimeoutSeconds: 10},
		Targets: []permit.Target{
			{Name: "austin", Endpoints: []permit.EndpointConfig{
				{Name: "main", Kind: permit.KindArcGIS, URL: "https://x/query"},
			}},
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Fetch.TimeoutSeconds = 0
				return c
			}(),
			want: "fetch.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "no targets",
			cfg: func() Config {
				c := base
				c.Targets = nil
				return c
			}(),
			want: "at least one target",
		},
		{
			name: "nameless target",
			cfg: func() Config {
				c := base
				c.Targets = []permit.Target{{}}
				return c
			}(),
			want: "needs a name",
		},
		{
			name: "duplicate target",
			cfg: func() Config {
				c := base
				c.Targets = append(c.Targets, c.Targets[0])
				return c
			}(),
			want: "duplicate target",
		},
		{
			name: "target with nothing to harvest",
			cfg: func() Config {
				c := base
				c.Targets = []permit.Target{{Name: "empty"}}
				return c
			}(),
			want: "no endpoints",
		},
		{
			name: "rendered endpoint without headless",
			cfg: func() Config {
				c := base
				c.Targets = []permit.Target{{Name: "austin", Endpoints: []permit.EndpointConfig{
					{Name: "portal", Kind: permit.KindRendered, URL: "https://x"},
				}}}
				return c
			}(),
			want: "headless.enabled",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTargetNames(t *testing.T) {
	t.Parallel()

	cfg := Config{Targets: []permit.Target{{Name: "a"}, {Name: "b"}}}
	names := cfg.TargetNames()
	if !names["a"] || !names["b"] || len(names) != 2 {
		t.Fatalf("unexpected names: %v", names)
	}
}
