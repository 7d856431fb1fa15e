package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vanguard.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: 9999
num_workers: 2
max_pool: 4
backends:
  - host: 10.0.0.1
    port: 5432
    role: primary
    weight: 1
  - host: 10.0.0.2
    port: 5432
    role: replica
    weight: 1
`

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.Backends[0].Role != "primary" {
		t.Errorf("expected first backend to be primary")
	}
}

func TestValidate_RequiresExactlyOnePrimary(t *testing.T) {
	path := writeConfig(t, `
port: 9999
num_workers: 2
max_pool: 4
backends:
  - host: 10.0.0.1
    port: 5432
    role: replica
    weight: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error with zero primaries")
	}
}

func TestValidate_RejectsNegativeWeight(t *testing.T) {
	path := writeConfig(t, `
port: 9999
num_workers: 2
max_pool: 4
backends:
  - host: 10.0.0.1
    port: 5432
    role: primary
    weight: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error with negative weight")
	}
}

func TestValidate_AllZeroWeightsNormalizedToUniform(t *testing.T) {
	path := writeConfig(t, `
port: 9999
num_workers: 2
max_pool: 4
backends:
  - host: 10.0.0.1
    port: 5432
    role: primary
  - host: 10.0.0.2
    port: 5432
    role: replica
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i, b := range cfg.Backends {
		if b.Weight != 1 {
			t.Errorf("backend %d: expected normalized weight 1, got %v", i, b.Weight)
		}
	}
}

func TestValidate_UseWatchdogRequiresPeers(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\nuse_watchdog: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error when use_watchdog set without peers")
	}
}
