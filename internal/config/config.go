package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/brain/internal/datastore"
)

// Config holds all configuration for the brain service
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Listen    string          `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Agent     AgentConfig     `yaml:"agent"`
	Remote    RemoteConfig    `yaml:"remote"`
	Provision ProvisionConfig `yaml:"provision"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // optional log file, appended to
}

// StorageConfig describes how to reach the storage cluster management API
type StorageConfig struct {
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// AgentConfig describes how to reach the device gateway agents
type AgentConfig struct {
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// Credentials the agent presents to the storage gateway when it maps a block device.
	BlockUser     string `yaml:"block_user"`
	BlockPassword string `yaml:"block_password"`
	VQCount       int    `yaml:"vq_count"`
	VQSize        int    `yaml:"vq_size"`
}

// RemoteConfig controls remote shell access to hosts
type RemoteConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProvisionConfig holds the constants used by the disk workflows
type ProvisionConfig struct {
	ClonePool       string        `yaml:"clone_pool"`
	ImagePool       string        `yaml:"image_pool"`
	SnapshotName    string        `yaml:"snapshot_name"`
	Nameservers     []string      `yaml:"nameservers"`
	EFILoader       string        `yaml:"efi_loader"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	// SizeToleranceGB is how far a new device may differ from the disk size.
	// With 2, devices of 38, 40 and 41 GiB all qualify for a 40 GiB disk.
	SizeToleranceGB int64         `yaml:"size_tolerance_gb"`
	BMCOctet        int           `yaml:"bmc_octet"`
	BMCValue        uint8         `yaml:"bmc_value"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath: "~/brain/data/brain.db",
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Port:               8443,
			Username:           "admin",
			Timeout:            30 * time.Second,
			TokenTTL:           30 * time.Minute,
			InsecureSkipVerify: true,
		},
		Agent: AgentConfig{
			Port:      8000,
			Username:  "admin",
			Timeout:   2 * time.Second,
			TokenTTL:  30 * time.Minute,
			BlockUser: "admin",
			VQCount:   2,
			VQSize:    512,
		},
		Remote: RemoteConfig{
			Timeout: 6 * time.Second,
		},
		Provision: ProvisionConfig{
			ClonePool:       "compute",
			ImagePool:       "images",
			SnapshotName:    "brain_snap",
			Nameservers:     []string{"10.0.0.50", "10.0.0.51"},
			EFILoader:       `\EFI\BOOT\BOOTX64.EFI`,
			SettleDelay:     2 * time.Second,
			SizeToleranceGB: 1,
			BMCOctet:        2,
			BMCValue:        254,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(cfg.expandPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that the workflows cannot run without
func (c *Config) Validate() error {
	var problems []string
	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.Storage.Port <= 0 || c.Agent.Port <= 0 {
		problems = append(problems, "storage and agent ports must be positive")
	}
	if c.Provision.ClonePool == "" || c.Provision.SnapshotName == "" {
		problems = append(problems, "provision.clone_pool and provision.snapshot_name are required")
	}
	if c.Provision.BMCOctet < 0 || c.Provision.BMCOctet > 3 {
		problems = append(problems, "provision.bmc_octet must be between 0 and 3")
	}
	if c.Provision.SizeToleranceGB < 0 {
		problems = append(problems, "provision.size_tolerance_gb must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitializeDatabase creates and configures the inventory datastore
func (c *Config) InitializeDatabase() (*datastore.Datastore, error) {
	dbPath := c.expandPath(c.DBPath)

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	ds, err := datastore.Wrap(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(homeDir, path[2:])
}
