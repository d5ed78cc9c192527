// Package config provides YAML configuration loading and validation for the
// PEL daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the PEL daemon.
type Config struct {
	// BMCID identifies this BMC in the host-notification protocol and the
	// fleet index. Required.
	BMCID string `yaml:"bmc_id"`

	// RegistryPath is the path to the message registry JSON file. Required.
	RegistryPath string `yaml:"registry_path"`

	// System describes the machine this daemon runs on: the fields
	// srcbuilder and the ExtendedUserHeader need to resolve per-system
	// callouts and stamp machine identity into every synthesized PEL.
	// Required.
	System SystemConfig `yaml:"system"`

	// Repository configures the on-disk bounded/pruned PEL store. Required.
	Repository RepositoryConfig `yaml:"repository"`

	// HostNotifier configures the async host-notification gRPC transport.
	// Required.
	HostNotifier HostNotifierConfig `yaml:"host_notifier"`

	// Bus configures the manager-level gRPC and REST bus surfaces.
	Bus BusConfig `yaml:"bus"`

	// FleetIndex optionally configures the supplemental PostgreSQL fan-in
	// mirror. Omit entirely to disable it.
	FleetIndex *FleetIndexConfig `yaml:"fleet_index,omitempty"`

	// QuiesceOnError enables the quiesce-on-error policy: a
	// non-informational, non-recovered, non-hostboot-originated PEL halts
	// host firmware progression. Defaults to false when omitted.
	QuiesceOnError bool `yaml:"quiesce_on_error"`

	// CreatorVersion is the BMC creator subsystem version string stamped
	// into synthesized PELs. Defaults to "1.0" when omitted.
	CreatorVersion string `yaml:"creator_version"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz HTTP server
	// (e.g. "127.0.0.1:9000"). Defaults to "127.0.0.1:9000" when omitted.
	HealthAddr string `yaml:"health_addr"`
}

// SystemConfig describes the fixed machine-identity facts the daemon
// stamps into PELs and uses to resolve per-system callout overrides. On a
// real BMC these would come from entity-manager/inventory D-Bus lookups;
// here they're supplied statically since this daemon has no D-Bus surface
// in scope (see internal/sysinfo).
type SystemConfig struct {
	Type               string   `yaml:"type"`
	CompatibleNames    []string `yaml:"compatible_names"`
	MachineTypeModel   string   `yaml:"machine_type_model"`
	MachineSerial      string   `yaml:"machine_serial"`
	ServerFWVersion    string   `yaml:"server_fw_version"`
	SubsystemFWVersion string   `yaml:"subsystem_fw_version"`
	ManufacturingMode  bool     `yaml:"manufacturing_mode"`

	// MotherboardCCIN is the 4-character customer card identification
	// number stamped into hardware-creator SRCs' hex word 3 (spec §3/§4.4,
	// src.cpp's setMotherboardCCIN).
	MotherboardCCIN string `yaml:"motherboard_ccin,omitempty"`

	// Inventory maps an inventory path (as carried in a
	// CALLOUT_INVENTORY_PATH/InventoryPath additional-data value) to the
	// hardware callout fields a real entity-manager/VPD lookup would
	// supply. Static per internal/sysinfo's documented role as a stand-in
	// for that D-Bus surface.
	Inventory map[string]InventoryItem `yaml:"inventory,omitempty"`
}

// InventoryItem is one hardware FRU's callout fields (spec §3, src.cpp's
// getHWCalloutFields/getLocationCode).
type InventoryItem struct {
	LocationCode string `yaml:"location_code"`
	PartNumber   string `yaml:"part_number,omitempty"`
	CCIN         string `yaml:"ccin,omitempty"`
	SerialNumber string `yaml:"serial_number,omitempty"`
}

// RepositoryConfig configures internal/repository.Repository.
type RepositoryConfig struct {
	LogDir      string `yaml:"log_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
	DBPath      string `yaml:"db_path"`
	MaxRepoSize int64  `yaml:"max_repo_size"`
	MaxNumPELs  int    `yaml:"max_num_pels"`
	BadPELPath  string `yaml:"bad_pel_path"`
}

// HostNotifierConfig configures internal/notifier.GRPCTransport.
type HostNotifierConfig struct {
	HostAddr       string        `yaml:"host_addr"`
	CertPath       string        `yaml:"cert_path"`
	KeyPath        string        `yaml:"key_path"`
	CAPath         string        `yaml:"ca_path"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// BusConfig configures the manager-level gRPC and REST bus surfaces.
type BusConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	RESTAddr string `yaml:"rest_addr"`

	// TLS holds the server certificate/key/CA used for the gRPC bus's mTLS
	// listener. Required.
	TLS TLSConfig `yaml:"tls"`

	// JWTPublicKeyPath is the PEM-encoded RSA public key used to verify
	// RS256 bearer tokens on the REST bus. Leave empty to disable JWT
	// validation (not recommended outside of local development).
	JWTPublicKeyPath string `yaml:"jwt_public_key_path,omitempty"`
}

// TLSConfig holds certificate and key paths for mTLS.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
	CAPath   string `yaml:"ca_path"`
}

// FleetIndexConfig configures internal/fleetindex.Mirror.
type FleetIndexConfig struct {
	ConnStr       string        `yaml:"conn_str"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9000"
	}
	if cfg.CreatorVersion == "" {
		cfg.CreatorVersion = "1.0"
	}
	if cfg.HostNotifier.InitialBackoff == 0 {
		cfg.HostNotifier.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.HostNotifier.MaxBackoff == 0 {
		cfg.HostNotifier.MaxBackoff = 30 * time.Second
	}
	if cfg.HostNotifier.DialTimeout == 0 {
		cfg.HostNotifier.DialTimeout = 10 * time.Second
	}
	if cfg.FleetIndex != nil {
		if cfg.FleetIndex.BatchSize == 0 {
			cfg.FleetIndex.BatchSize = 50
		}
		if cfg.FleetIndex.FlushInterval == 0 {
			cfg.FleetIndex.FlushInterval = 2 * time.Second
		}
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.BMCID == "" {
		errs = append(errs, errors.New("bmc_id is required"))
	}
	if cfg.RegistryPath == "" {
		errs = append(errs, errors.New("registry_path is required"))
	}
	if cfg.System.Type == "" {
		errs = append(errs, errors.New("system.type is required"))
	}
	if cfg.System.MachineTypeModel == "" {
		errs = append(errs, errors.New("system.machine_type_model is required"))
	}
	if cfg.System.MachineSerial == "" {
		errs = append(errs, errors.New("system.machine_serial is required"))
	}
	if cfg.Repository.LogDir == "" {
		errs = append(errs, errors.New("repository.log_dir is required"))
	}
	if cfg.Repository.ArchiveDir == "" {
		errs = append(errs, errors.New("repository.archive_dir is required"))
	}
	if cfg.Repository.DBPath == "" {
		errs = append(errs, errors.New("repository.db_path is required"))
	}
	if cfg.Repository.MaxRepoSize <= 0 {
		errs = append(errs, errors.New("repository.max_repo_size must be positive"))
	}
	if cfg.Repository.MaxNumPELs <= 0 {
		errs = append(errs, errors.New("repository.max_num_pels must be positive"))
	}

	if cfg.HostNotifier.HostAddr == "" {
		errs = append(errs, errors.New("host_notifier.host_addr is required"))
	}
	if cfg.HostNotifier.CertPath == "" {
		errs = append(errs, errors.New("host_notifier.cert_path is required"))
	}
	if cfg.HostNotifier.KeyPath == "" {
		errs = append(errs, errors.New("host_notifier.key_path is required"))
	}
	if cfg.HostNotifier.CAPath == "" {
		errs = append(errs, errors.New("host_notifier.ca_path is required"))
	}

	if cfg.Bus.GRPCAddr == "" {
		errs = append(errs, errors.New("bus.grpc_addr is required"))
	}
	if cfg.Bus.RESTAddr == "" {
		errs = append(errs, errors.New("bus.rest_addr is required"))
	}
	if cfg.Bus.TLS.CertPath == "" {
		errs = append(errs, errors.New("bus.tls.cert_path is required"))
	}
	if cfg.Bus.TLS.KeyPath == "" {
		errs = append(errs, errors.New("bus.tls.key_path is required"))
	}
	if cfg.Bus.TLS.CAPath == "" {
		errs = append(errs, errors.New("bus.tls.ca_path is required"))
	}

	if cfg.FleetIndex != nil && cfg.FleetIndex.ConnStr == "" {
		errs = append(errs, errors.New("fleet_index.conn_str is required when fleet_index is configured"))
	}

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
