package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits bounds the numeric resource fields on agents and jobs. Values
// outside a bound are rejected at mutation time, except job cpus/ram
// values listed in the Special sets.
type Limits struct {
	MinCPUs     int `yaml:"min_cpus"`
	MaxCPUs     int `yaml:"max_cpus"`
	MinRAM      int `yaml:"min_ram"`
	MaxRAM      int `yaml:"max_ram"`
	MinPort     int `yaml:"min_port"`
	MaxPort     int `yaml:"max_port"`
	MinPriority int `yaml:"min_priority"`
	MaxPriority int `yaml:"max_priority"`

	// Sentinel values exempt from the ram/cpus bounds on jobs.
	// 0 means "no floor", -1 means "exclusive access to the agent".
	SpecialRAM  []int `yaml:"special_ram"`
	SpecialCPUs []int `yaml:"special_cpus"`
}

// Scheduling controls the assignment engine and health tracking.
type Scheduling struct {
	// TickInterval is how often the assignment engine runs a pass.
	TickInterval time.Duration `yaml:"tick_interval"`

	// HeartbeatTimeout is how long an agent may stay silent before it
	// is considered stale and excluded from scheduling.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// HealthSweepInterval is how often stale agents are swept and
	// their assigned or running tasks force-failed.
	HealthSweepInterval time.Duration `yaml:"health_sweep_interval"`

	// DefaultQueueWeight and DefaultQueuePriority apply to job queues
	// created without explicit values.
	DefaultQueueWeight   int `yaml:"default_queue_weight"`
	DefaultQueuePriority int `yaml:"default_queue_priority"`

	// PreferRunningJobs makes queue selection favor jobs that already
	// have running tasks over starting queued jobs.
	PreferRunningJobs bool `yaml:"prefer_running_jobs"`
}

// Agents holds defaults applied to newly registered agents.
type Agents struct {
	// RAMAllocation and CPUAllocation cap how much of an agent's
	// capacity may be committed to work. 1.0 means all of it.
	RAMAllocation float64 `yaml:"ram_allocation"`
	CPUAllocation float64 `yaml:"cpu_allocation"`

	// AllowLoopback permits loopback addresses for agents, useful for
	// local development farms.
	AllowLoopback bool `yaml:"allow_loopback"`

	// RequireToken gates agent registration behind one-time tokens.
	RequireToken bool `yaml:"require_token"`
}

// Config is the full Grange configuration. It is constructed explicitly
// and passed into each component; nothing reads it from ambient state.
type Config struct {
	DataDir     string     `yaml:"data_dir"`
	APIAddr     string     `yaml:"api_addr"`
	MetricsAddr string     `yaml:"metrics_addr"`
	LogLevel    string     `yaml:"log_level"`
	Limits      Limits     `yaml:"limits"`
	Scheduling  Scheduling `yaml:"scheduling"`
	Agents      Agents     `yaml:"agents"`
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		DataDir:     "/var/lib/grange",
		APIAddr:     ":8070",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Limits: Limits{
			MinCPUs:     1,
			MaxCPUs:     256,
			MinRAM:      16,
			MaxRAM:      262144,
			MinPort:     1024,
			MaxPort:     65535,
			MinPriority: -1000,
			MaxPriority: 1000,
			SpecialRAM:  []int{0, -1},
			SpecialCPUs: []int{0, -1},
		},
		Scheduling: Scheduling{
			TickInterval:         5 * time.Second,
			HeartbeatTimeout:     90 * time.Second,
			HealthSweepInterval:  30 * time.Second,
			DefaultQueueWeight:   10,
			DefaultQueuePriority: 0,
			PreferRunningJobs:    true,
		},
		Agents: Agents{
			RAMAllocation: 0.8,
			CPUAllocation: 1.0,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	l := c.Limits
	if l.MinCPUs < 1 {
		return fmt.Errorf("limits.min_cpus must be > 0, got %d", l.MinCPUs)
	}
	if l.MaxCPUs < l.MinCPUs {
		return fmt.Errorf("limits.max_cpus (%d) must be >= limits.min_cpus (%d)", l.MaxCPUs, l.MinCPUs)
	}
	if l.MinRAM < 1 {
		return fmt.Errorf("limits.min_ram must be > 0, got %d", l.MinRAM)
	}
	if l.MaxRAM < l.MinRAM {
		return fmt.Errorf("limits.max_ram (%d) must be >= limits.min_ram (%d)", l.MaxRAM, l.MinRAM)
	}
	if l.MinPort < 1 || l.MaxPort > 65535 || l.MaxPort < l.MinPort {
		return fmt.Errorf("invalid port bounds [%d, %d]", l.MinPort, l.MaxPort)
	}
	if l.MaxPriority < l.MinPriority {
		return fmt.Errorf("limits.max_priority (%d) must be >= limits.min_priority (%d)", l.MaxPriority, l.MinPriority)
	}
	if c.Agents.RAMAllocation < 0 || c.Agents.RAMAllocation > 1 {
		return fmt.Errorf("agents.ram_allocation must be in [0, 1], got %v", c.Agents.RAMAllocation)
	}
	if c.Agents.CPUAllocation < 0 || c.Agents.CPUAllocation > 1 {
		return fmt.Errorf("agents.cpu_allocation must be in [0, 1], got %v", c.Agents.CPUAllocation)
	}
	if c.Scheduling.TickInterval <= 0 {
		return fmt.Errorf("scheduling.tick_interval must be positive")
	}
	if c.Scheduling.HeartbeatTimeout <= 0 {
		return fmt.Errorf("scheduling.heartbeat_timeout must be positive")
	}
	return nil
}
