// Package config loads Shuttle's configuration from a YAML file,
// applies environment-variable and command-line overrides, and
// validates the result before the Run Supervisor builds a RunContext
// from it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Paths holds every filesystem location Shuttle touches.
type Paths struct {
	Source              string `yaml:"source"`
	Destination         string `yaml:"destination"`
	Quarantine          string `yaml:"quarantine"`
	Log                 string `yaml:"log"`
	HazardArchive       string `yaml:"hazard_archive"`
	HazardEncryptionKey string `yaml:"hazard_encryption_key"`
	Ledger              string `yaml:"ledger"`
	Lock                string `yaml:"lock"`
	SigningKey          string `yaml:"signing_key"`
}

// Settings holds the pipeline's behavioral switches.
type Settings struct {
	MaxScanThreads                int    `yaml:"max_scan_threads"`
	DeleteSourceFilesAfterCopying bool   `yaml:"delete_source_files_after_copying"`
	DefenderHandlesSuspectFiles   bool   `yaml:"defender_handles_suspect_files"`
	OnDemandDefender              bool   `yaml:"on_demand_defender"`
	OnDemandClamAV                bool   `yaml:"on_demand_clam_av"`
	Throttle                      bool   `yaml:"throttle"`
	ThrottleFreeSpaceMB           int64  `yaml:"throttle_free_space_mb"`
	ThrottleMaxFileCountPerRun    int    `yaml:"throttle_max_file_count_per_run"`
	ThrottleMaxVolumeMBPerRun     int64  `yaml:"throttle_max_volume_mb_per_run"`
	ThrottleMaxFileCountPerDay    int    `yaml:"throttle_max_file_count_per_day"`
	ThrottleMaxVolumeMBPerDay     int64  `yaml:"throttle_max_volume_mb_per_day"`
	HashAlgorithm                string `yaml:"hash_algorithm"`
	StabilityCheckIntervalSeconds int   `yaml:"stability_check_interval_seconds"`
	MetricsAddr                   string `yaml:"metrics_addr"`
	NotifyWebhookURL               string `yaml:"notify_webhook_url"`
}

// Scanning holds timeout/retry/circuit-breaker knobs.
type Scanning struct {
	MalwareScanTimeoutSeconds    int `yaml:"malware_scan_timeout_seconds"`
	MalwareScanRetryWaitSeconds  int `yaml:"malware_scan_retry_wait_seconds"`
	MalwareScanRetryCount        int `yaml:"malware_scan_retry_count"`
}

// Logging holds the logging level.
type Logging struct {
	LogLevel string `yaml:"log_level"`
}

// Config is the top-level configuration document.
type Config struct {
	Paths    Paths    `yaml:"paths"`
	Settings Settings `yaml:"settings"`
	Scanning Scanning `yaml:"scanning"`
	Logging  Logging  `yaml:"logging"`
}

// Default returns a Config with its built-in defaults.
func Default() Config {
	return Config{
		Settings: Settings{
			MaxScanThreads:                 1,
			HashAlgorithm:                  "sha256",
			StabilityCheckIntervalSeconds:  5,
		},
		Scanning: Scanning{
			MalwareScanTimeoutSeconds:   0,
			MalwareScanRetryWaitSeconds: 5,
			MalwareScanRetryCount:       0,
		},
		Logging: Logging{
			LogLevel: "INFO",
		},
	}
}

// Overrides carries command-line flag values; a zero value for any
// field means "not set on the command line" and the field is left
// untouched. Overrides is applied after environment variables, so
// it wins the precedence: CLI > env > file > default.
type Overrides struct {
	Source         *string
	Destination    *string
	Quarantine     *string
	MaxScanThreads *int
	LogLevel       *string
}

// Load reads path, applies environment overrides, then cliOverrides,
// then validates. path must exist; Shuttle has no "configless" mode.
func Load(path string, cliOverrides Overrides) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(&cfg)
	applyCLI(&cfg, cliOverrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHUTTLE_SOURCE"); v != "" {
		cfg.Paths.Source = v
	}
	if v := os.Getenv("SHUTTLE_DESTINATION"); v != "" {
		cfg.Paths.Destination = v
	}
	if v := os.Getenv("SHUTTLE_QUARANTINE"); v != "" {
		cfg.Paths.Quarantine = v
	}
	if v := os.Getenv("SHUTTLE_LOG_LEVEL"); v != "" {
		cfg.Logging.LogLevel = strings.ToUpper(v)
	}
	if v := os.Getenv("SHUTTLE_STATE_DIR"); v != "" {
		cfg.Paths.Log = v
	}
	if v := os.Getenv("SHUTTLE_MAX_SCAN_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settings.MaxScanThreads = n
		}
	}
}

func applyCLI(cfg *Config, o Overrides) {
	if o.Source != nil {
		cfg.Paths.Source = *o.Source
	}
	if o.Destination != nil {
		cfg.Paths.Destination = *o.Destination
	}
	if o.Quarantine != nil {
		cfg.Paths.Quarantine = *o.Quarantine
	}
	if o.MaxScanThreads != nil {
		cfg.Settings.MaxScanThreads = *o.MaxScanThreads
	}
	if o.LogLevel != nil {
		cfg.Logging.LogLevel = strings.ToUpper(*o.LogLevel)
	}
}

// Validate enforces the required fields and sane ranges. It never
// mutates cfg except for clamping MaxScanThreads to its floor.
func (c *Config) Validate() error {
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Destination == "" {
		return fmt.Errorf("paths.destination is required")
	}
	if c.Paths.Quarantine == "" {
		return fmt.Errorf("paths.quarantine is required")
	}
	if c.Paths.Log == "" {
		return fmt.Errorf("paths.log is required")
	}
	if c.Paths.Lock == "" {
		return fmt.Errorf("paths.lock is required")
	}
	if c.Paths.Ledger == "" {
		return fmt.Errorf("paths.ledger is required")
	}
	if !c.Settings.OnDemandDefender && !c.Settings.OnDemandClamAV {
		return fmt.Errorf("at least one of settings.on_demand_defender or settings.on_demand_clam_av must be enabled")
	}
	needsHazard := c.Settings.OnDemandClamAV || (c.Settings.OnDemandDefender && !c.Settings.DefenderHandlesSuspectFiles)
	if needsHazard && (c.Paths.HazardArchive == "" || c.Paths.HazardEncryptionKey == "") {
		return fmt.Errorf("paths.hazard_archive and paths.hazard_encryption_key are required: at least one configured scanner does not self-manage suspect files")
	}
	if c.Settings.MaxScanThreads < 1 {
		c.Settings.MaxScanThreads = 1
	}
	switch strings.ToLower(c.Settings.HashAlgorithm) {
	case "", "sha256", "sha3-256":
	default:
		return fmt.Errorf("settings.hash_algorithm must be sha256 or sha3-256, got %q", c.Settings.HashAlgorithm)
	}
	switch strings.ToUpper(c.Logging.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("logging.log_level must be one of DEBUG/INFO/WARNING/ERROR/CRITICAL, got %q", c.Logging.LogLevel)
	}
	return nil
}
