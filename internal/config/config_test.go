package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
interface = "vcan1"
metrics_addr = "127.0.0.1:9400"
backoff_initial = "100ms"
backoff_jitter = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interface != "vcan1" {
		t.Fatalf("interface not applied: %q", cfg.Interface)
	}
	if cfg.MetricsAddr != "127.0.0.1:9400" {
		t.Fatalf("metrics_addr not applied: %q", cfg.MetricsAddr)
	}
	if cfg.Session.Backoff.InitialDelay != 100*time.Millisecond {
		t.Fatalf("backoff_initial not applied: %v", cfg.Session.Backoff.InitialDelay)
	}
	if cfg.Session.Backoff.Jitter {
		t.Fatalf("backoff_jitter not applied")
	}
	// Undefined keys keep their defaults.
	def := Default()
	if cfg.Session.DialTimeout != def.Session.DialTimeout {
		t.Fatalf("dial timeout default lost: %v", cfg.Session.DialTimeout)
	}
	if cfg.ProvisionVCAN {
		t.Fatalf("provision_vcan default lost")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `dial_timeout = "soon"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
