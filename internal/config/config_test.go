package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/openbmc/pel-logd/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
bmc_id: "bmc0"
registry_path: "/usr/share/pel-logd/registry.json"
system:
  type: "rainier"
  compatible_names: ["rainier"]
  machine_type_model: "9105-22A"
  machine_serial: "SN12345"
  server_fw_version: "v2.1"
  subsystem_fw_version: "v2.1-sub"
repository:
  log_dir: "/var/lib/pel-logd/logs"
  archive_dir: "/var/lib/pel-logd/archive"
  db_path: "/var/lib/pel-logd/attrs.db"
  max_repo_size: 104857600
  max_num_pels: 5000
host_notifier:
  host_addr: "host.local:9443"
  cert_path: "/etc/pel-logd/host.crt"
  key_path:  "/etc/pel-logd/host.key"
  ca_path:   "/etc/pel-logd/ca.crt"
bus:
  grpc_addr: "0.0.0.0:8443"
  rest_addr: "127.0.0.1:8080"
  tls:
    cert_path: "/etc/pel-logd/bus.crt"
    key_path:  "/etc/pel-logd/bus.key"
    ca_path:   "/etc/pel-logd/ca.crt"
log_level: debug
health_addr: "127.0.0.1:9001"
quiesce_on_error: true
`

func TestLoadConfigValid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BMCID != "bmc0" {
		t.Errorf("BMCID = %q, want %q", cfg.BMCID, "bmc0")
	}
	if cfg.Repository.MaxNumPELs != 5000 {
		t.Errorf("Repository.MaxNumPELs = %d, want 5000", cfg.Repository.MaxNumPELs)
	}
	if cfg.HostNotifier.HostAddr != "host.local:9443" {
		t.Errorf("HostNotifier.HostAddr = %q", cfg.HostNotifier.HostAddr)
	}
	if cfg.Bus.GRPCAddr != "0.0.0.0:8443" {
		t.Errorf("Bus.GRPCAddr = %q", cfg.Bus.GRPCAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.HealthAddr != "127.0.0.1:9001" {
		t.Errorf("HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9001")
	}
	if !cfg.QuiesceOnError {
		t.Error("expected QuiesceOnError = true")
	}
	if cfg.FleetIndex != nil {
		t.Error("expected FleetIndex to be nil when omitted")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
bmc_id: "bmc0"
registry_path: "/usr/share/pel-logd/registry.json"
system:
  type: "rainier"
  machine_type_model: "9105-22A"
  machine_serial: "SN12345"
repository:
  log_dir: "/var/lib/pel-logd/logs"
  archive_dir: "/var/lib/pel-logd/archive"
  db_path: "/var/lib/pel-logd/attrs.db"
  max_repo_size: 104857600
  max_num_pels: 5000
host_notifier:
  host_addr: "host.local:9443"
  cert_path: "/etc/pel-logd/host.crt"
  key_path:  "/etc/pel-logd/host.key"
  ca_path:   "/etc/pel-logd/ca.crt"
bus:
  grpc_addr: "0.0.0.0:8443"
  rest_addr: "127.0.0.1:8080"
  tls:
    cert_path: "/etc/pel-logd/bus.crt"
    key_path:  "/etc/pel-logd/bus.key"
    ca_path:   "/etc/pel-logd/ca.crt"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.HealthAddr != "127.0.0.1:9000" {
		t.Errorf("default HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9000")
	}
	if cfg.CreatorVersion != "1.0" {
		t.Errorf("default CreatorVersion = %q, want %q", cfg.CreatorVersion, "1.0")
	}
	if cfg.HostNotifier.InitialBackoff != 500*time.Millisecond {
		t.Errorf("default HostNotifier.InitialBackoff = %v", cfg.HostNotifier.InitialBackoff)
	}
	if cfg.HostNotifier.MaxBackoff != 30*time.Second {
		t.Errorf("default HostNotifier.MaxBackoff = %v", cfg.HostNotifier.MaxBackoff)
	}
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, `log_level: info`)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing required fields")
	}
	for _, want := range []string{"bmc_id", "registry_path", "system.type", "repository.log_dir", "host_notifier.host_addr", "bus.grpc_addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadConfigInvalidLogLevel(t *testing.T) {
	yaml := strings.Replace(validYAML, "log_level: debug", "log_level: verbose", 1)
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err)
	}
}

func TestLoadConfigFleetIndexRequiresConnStr(t *testing.T) {
	yaml := validYAML + "\nfleet_index:\n  batch_size: 10\n"
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error when fleet_index.conn_str is missing")
	}
	if !strings.Contains(err.Error(), "fleet_index.conn_str") {
		t.Errorf("error %q does not mention fleet_index.conn_str", err)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
