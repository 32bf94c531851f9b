package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("SIDEBAND_CONFIG", path)
}

// offlineConfig disables every component that needs a network peer.
func offlineConfig(dir string) string {
	return `
service:
  id: test-sideband

control:
  socket_path: "` + filepath.Join(dir, "control.sock") + `"
  alias_path: ""
  queue_depth: 8
  request_timeout: 1

hotplug:
  enabled: false

database:
  path: "` + filepath.Join(dir, "data", "sideband.db") + `"
  wal_mode: true
  busy_timeout: 5

audit:
  enabled: true
  retention_days: 0

mqtt:
  enabled: false

api:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SIDEBAND_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_AuditWithoutDatabasePath(t *testing.T) {
	writeConfig(t, `
service:
  id: test-sideband
database:
  path: ""
audit:
  enabled: true
hotplug:
  enabled: false
mqtt:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the audit trail has no database path")
	}
}

func TestRun_HotplugRequiresMQTT(t *testing.T) {
	writeConfig(t, `
service:
  id: test-sideband
hotplug:
  enabled: true
mqtt:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when hot-plug is enabled without MQTT")
	}
}

func TestRun_OfflineStartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, offlineConfig(dir))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "data", "sideband.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	// No instance was attached, so no channel socket may be left behind.
	if _, err := os.Stat(filepath.Join(dir, "control.sock")); !os.IsNotExist(err) {
		t.Errorf("control socket exists after shutdown: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"default", "", defaultConfigPath},
		{"override", "/custom/path/config.yaml", "/custom/path/config.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIDEBAND_CONFIG", tt.env)
			if got := getConfigPath(); got != tt.want {
				t.Errorf("getConfigPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
