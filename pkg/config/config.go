package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bagleyctf/labrange/pkg/types"
)

// Defaults mirror the documented policy: 3 labs per owner, 50 per host,
// 4h TTL, 10/15/20 requests per minute with a 60s block.
const (
	DefaultMaxPerOwner = 3
	DefaultMaxTotal    = 50
	DefaultTTL         = 4 * time.Hour

	DefaultRateSoft         = 10
	DefaultRateWarn         = 15
	DefaultRateHard         = 20
	DefaultRateBlock        = 60 * time.Second
	DefaultRateWindow       = 60 * time.Second

	DefaultNetworkName    = "ctf-isolated"
	DefaultNetworkSubnet  = "172.20.0.0/16"
	DefaultProtectedRange = "10.106.195.0/24"

	DefaultMemoryBytes = 2 << 30 // 2 GiB
	DefaultCPUs        = 1.0
	DefaultPidsLimit   = 100

	DefaultCreateTimeout  = 30 * time.Second
	DefaultStopTimeout    = 30 * time.Second
	DefaultRemoveTimeout  = 15 * time.Second
	DefaultInspectTimeout = 10 * time.Second

	DefaultSweepInterval = 10 * time.Minute
)

// RateLimitPolicy holds the sliding-window thresholds
type RateLimitPolicy struct {
	Window        time.Duration `yaml:"window"`
	SoftThreshold int           `yaml:"soft_threshold"`
	WarnThreshold int           `yaml:"warn_threshold"`
	HardThreshold int           `yaml:"hard_threshold"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

// NetworkPolicy describes the isolated lab network and the address range
// labs must never reach.
type NetworkPolicy struct {
	Name           string `yaml:"name"`
	Subnet         string `yaml:"subnet"`
	ProtectedRange string `yaml:"protected_range"`
}

// DriverTimeouts caps every runtime driver call. Exceeding a ceiling
// surfaces as a timeout error rather than hanging the caller.
type DriverTimeouts struct {
	Create  time.Duration `yaml:"create"`
	Stop    time.Duration `yaml:"stop"`
	Remove  time.Duration `yaml:"remove"`
	Inspect time.Duration `yaml:"inspect"`
}

// AccessPolicy controls who may use the orchestrator
type AccessPolicy struct {
	// SuperuserIDs are granted unconditionally
	SuperuserIDs []int64 `yaml:"superuser_ids"`

	// AllowedRoles grant access when any requester role matches
	AllowedRoles []string `yaml:"allowed_roles"`

	// Remediation is the human-readable message attached to denials
	Remediation string `yaml:"remediation"`
}

// Config is the orchestrator's full configuration
type Config struct {
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	AuditLog    string `yaml:"audit_log"`
	CatalogPath string `yaml:"catalog_path"`

	Quota     types.QuotaPolicy     `yaml:"quota"`
	RateLimit RateLimitPolicy       `yaml:"rate_limit"`
	Network   NetworkPolicy         `yaml:"network"`
	Resources types.ResourceProfile `yaml:"resources"`
	Access    AccessPolicy          `yaml:"access"`
	Timeouts  DriverTimeouts        `yaml:"timeouts"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	dataDir := filepath.Join(os.Getenv("HOME"), ".labrange")
	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		AuditLog: filepath.Join(dataDir, "logs", "audit.log"),
		Quota: types.QuotaPolicy{
			MaxPerOwner: DefaultMaxPerOwner,
			MaxTotal:    DefaultMaxTotal,
			TTL:         DefaultTTL,
		},
		RateLimit: RateLimitPolicy{
			Window:        DefaultRateWindow,
			SoftThreshold: DefaultRateSoft,
			WarnThreshold: DefaultRateWarn,
			HardThreshold: DefaultRateHard,
			BlockDuration: DefaultRateBlock,
		},
		Network: NetworkPolicy{
			Name:           DefaultNetworkName,
			Subnet:         DefaultNetworkSubnet,
			ProtectedRange: DefaultProtectedRange,
		},
		Resources: types.ResourceProfile{
			MemoryBytes: DefaultMemoryBytes,
			CPUs:        DefaultCPUs,
			PidsLimit:   DefaultPidsLimit,
		},
		Access: AccessPolicy{
			AllowedRoles: []string{"Operator", "Officer"},
			Remediation: "You need to be verified to use CTF labs. " +
				"Contact an officer to get the Operator role, then try again.",
		},
		Timeouts: DriverTimeouts{
			Create:  DefaultCreateTimeout,
			Stop:    DefaultStopTimeout,
			Remove:  DefaultRemoveTimeout,
			Inspect: DefaultInspectTimeout,
		},
		SweepInterval: DefaultSweepInterval,
		MetricsAddr:   "127.0.0.1:9321",
	}
}

// Load reads configuration from path, filling unset fields with defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file
func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.AuditLog == "" {
		c.AuditLog = filepath.Join(c.DataDir, "logs", "audit.log")
	}
	if c.Quota.MaxPerOwner <= 0 {
		c.Quota.MaxPerOwner = d.Quota.MaxPerOwner
	}
	if c.Quota.MaxTotal <= 0 {
		c.Quota.MaxTotal = d.Quota.MaxTotal
	}
	if c.Quota.TTL <= 0 {
		c.Quota.TTL = d.Quota.TTL
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = d.RateLimit.Window
	}
	if c.RateLimit.SoftThreshold <= 0 {
		c.RateLimit.SoftThreshold = d.RateLimit.SoftThreshold
	}
	if c.RateLimit.WarnThreshold <= 0 {
		c.RateLimit.WarnThreshold = d.RateLimit.WarnThreshold
	}
	if c.RateLimit.HardThreshold <= 0 {
		c.RateLimit.HardThreshold = d.RateLimit.HardThreshold
	}
	if c.RateLimit.BlockDuration <= 0 {
		c.RateLimit.BlockDuration = d.RateLimit.BlockDuration
	}
	if c.Network.Name == "" {
		c.Network.Name = d.Network.Name
	}
	if c.Network.Subnet == "" {
		c.Network.Subnet = d.Network.Subnet
	}
	if c.Network.ProtectedRange == "" {
		c.Network.ProtectedRange = d.Network.ProtectedRange
	}
	if c.Resources.MemoryBytes <= 0 {
		c.Resources.MemoryBytes = d.Resources.MemoryBytes
	}
	if c.Resources.CPUs <= 0 {
		c.Resources.CPUs = d.Resources.CPUs
	}
	if c.Resources.PidsLimit <= 0 {
		c.Resources.PidsLimit = d.Resources.PidsLimit
	}
	if len(c.Access.AllowedRoles) == 0 {
		c.Access.AllowedRoles = d.Access.AllowedRoles
	}
	if c.Access.Remediation == "" {
		c.Access.Remediation = d.Access.Remediation
	}
	if c.Timeouts.Create <= 0 {
		c.Timeouts.Create = d.Timeouts.Create
	}
	if c.Timeouts.Stop <= 0 {
		c.Timeouts.Stop = d.Timeouts.Stop
	}
	if c.Timeouts.Remove <= 0 {
		c.Timeouts.Remove = d.Timeouts.Remove
	}
	if c.Timeouts.Inspect <= 0 {
		c.Timeouts.Inspect = d.Timeouts.Inspect
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = d.MetricsAddr
	}
}
