// Package config reads Vanguard's declarative YAML configuration file and
// exposes it as a validated, typed Config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/vanguard/pkg/types"
	"gopkg.in/yaml.v3"
)

// Backend is one configured PostgreSQL backend entry.
type Backend struct {
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port"`
	Weight          float64 `yaml:"weight"`
	Role            string  `yaml:"role"` // "primary" or "replica"
	DataDirectory   string  `yaml:"data_directory"`
	ApplicationName string  `yaml:"application_name"`
}

// Peer is one configured watchdog cluster peer.
type Peer struct {
	Host       string `yaml:"host"`
	WDPort     int    `yaml:"wd_port"`
	PgpoolPort int    `yaml:"pgpool_port"`
}

// Config is Vanguard's full runtime configuration, read from a YAML file.
type Config struct {
	ListenAddresses string `yaml:"listen_addresses"`
	Port            int    `yaml:"port"`
	SocketDir       string `yaml:"socket_dir"`

	NumWorkers          int `yaml:"num_workers"`
	MaxPool             int `yaml:"max_pool"`
	ChildLifeTime       int `yaml:"child_life_time"`       // seconds, 0 = unlimited
	ChildMaxConnections int `yaml:"child_max_connections"` // 0 = unlimited

	LoadBalanceMode            bool `yaml:"load_balance_mode"`
	StatementLevelLoadBalance  bool `yaml:"statement_level_load_balance"`
	IgnoreLeadingWhiteSpace    bool `yaml:"ignore_leading_white_space"`

	Backends []Backend `yaml:"backends"`

	HealthCheckPeriod    int    `yaml:"health_check_period"`  // seconds
	HealthCheckTimeout   int    `yaml:"health_check_timeout"` // seconds
	HealthCheckMaxRetries int   `yaml:"health_check_max_retries"`
	HealthCheckRetryDelay int   `yaml:"health_check_retry_delay"` // seconds
	HealthCheckUser      string `yaml:"health_check_user"`
	HealthCheckDatabase  string `yaml:"health_check_database"`

	FailoverCommand      string `yaml:"failover_command"`
	FailbackCommand      string `yaml:"failback_command"`
	FollowPrimaryCommand string `yaml:"follow_primary_command"`
	Recovery1stStageCommand string `yaml:"recovery_1st_stage_command"`
	Recovery2ndStageCommand string `yaml:"recovery_2nd_stage_command"`

	UseWatchdog          bool   `yaml:"use_watchdog"`
	WDPriority           int    `yaml:"wd_priority"`
	WDBindAddr           string `yaml:"wd_bind_addr"`
	WDPort               int    `yaml:"wd_port"`
	WDHeartbeatInterval  int    `yaml:"wd_heartbeat_interval"` // seconds
	WDHeartbeatDeadtime  int    `yaml:"wd_heartbeat_deadtime"` // seconds
	Peers                []Peer `yaml:"peers"`

	EnablePoolHBA bool   `yaml:"enable_pool_hba"`
	PoolPasswd    string `yaml:"pool_passwd"`
	SSL           bool   `yaml:"ssl"`
	SSLCertFile   string `yaml:"ssl_cert_file"`
	SSLKeyFile    string `yaml:"ssl_key_file"`

	LogDestination string `yaml:"log_destination"`
	LogLinePrefix  string `yaml:"log_line_prefix"`
	PidFileName    string `yaml:"pid_file_name"`

	AdminListenAddress string `yaml:"admin_listen_address"`
	AdminJWTSecret     string `yaml:"admin_jwt_secret"`
	AdminUsername      string `yaml:"admin_username"`
	AdminPasswordHash  string `yaml:"admin_password_hash"` // bcrypt, checked by POST /auth/login
}

// Default returns a Config with the same conservative defaults the
// original pgbalancer ships with, adjusted to this repository's flag names.
func Default() *Config {
	return &Config{
		ListenAddresses:           "127.0.0.1",
		Port:                      9999,
		SocketDir:                 "/tmp",
		NumWorkers:                4,
		MaxPool:                   4,
		ChildLifeTime:             300,
		ChildMaxConnections:       0,
		LoadBalanceMode:           true,
		StatementLevelLoadBalance: false,
		IgnoreLeadingWhiteSpace:   true,
		HealthCheckPeriod:         10,
		HealthCheckTimeout:        20,
		HealthCheckMaxRetries:     3,
		HealthCheckRetryDelay:     1,
		HealthCheckUser:           "vanguard",
		HealthCheckDatabase:       "postgres",
		UseWatchdog:               false,
		WDPriority:                1,
		WDPort:                    9000,
		WDHeartbeatInterval:       10,
		WDHeartbeatDeadtime:       30,
		EnablePoolHBA:             false,
		LogDestination:            "stderr",
		PidFileName:               "/tmp/vanguard.pid",
		AdminListenAddress:        "127.0.0.1:9898",
	}
}

// Load reads and validates a YAML config file, starting from Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate rejects a config that would leave the pooler unable to start or
// route correctly. Reload uses this to implement the config_invalid rule
// from spec §7: a bad reload keeps the old config and is logged, not fatal.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be positive, got %d", c.NumWorkers)
	}
	if c.MaxPool <= 0 {
		return fmt.Errorf("max_pool must be positive, got %d", c.MaxPool)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	primaries := 0
	negativeWeight := false
	allZeroWeight := true
	for i, b := range c.Backends {
		if b.Host == "" {
			return fmt.Errorf("backend %d: host is required", i)
		}
		if b.Port <= 0 {
			return fmt.Errorf("backend %d: port must be positive", i)
		}
		switch types.BackendRole(b.Role) {
		case types.RolePrimary:
			primaries++
		case types.RoleReplica:
		default:
			return fmt.Errorf("backend %d: role must be %q or %q, got %q", i, types.RolePrimary, types.RoleReplica, b.Role)
		}
		if b.Weight < 0 {
			negativeWeight = true
		}
		if b.Weight != 0 {
			allZeroWeight = false
		}
	}
	if primaries != 1 {
		return fmt.Errorf("exactly one backend must have role %q, found %d", types.RolePrimary, primaries)
	}
	if negativeWeight {
		return fmt.Errorf("backend weights must not be negative")
	}
	if allZeroWeight {
		// matches the original's guard in pool_config_yaml.c: an all-zero
		// weight set is treated as uniform rather than rejected outright.
		for i := range c.Backends {
			c.Backends[i].Weight = 1
		}
	}

	if c.UseWatchdog && len(c.Peers) == 0 {
		return fmt.Errorf("use_watchdog is set but no peers are configured")
	}

	return nil
}

// HealthCheckPeriodDuration is HealthCheckPeriod as a time.Duration.
func (c *Config) HealthCheckPeriodDuration() time.Duration {
	return time.Duration(c.HealthCheckPeriod) * time.Second
}

// HealthCheckTimeoutDuration is HealthCheckTimeout as a time.Duration.
func (c *Config) HealthCheckTimeoutDuration() time.Duration {
	return time.Duration(c.HealthCheckTimeout) * time.Second
}

// BackendNodes converts the configured backends into types.BackendNode,
// assigning stable IDs by configuration order (0-indexed).
func (c *Config) BackendNodes() []types.BackendNode {
	nodes := make([]types.BackendNode, 0, len(c.Backends))
	for i, b := range c.Backends {
		nodes = append(nodes, types.BackendNode{
			ID:              i,
			Host:            b.Host,
			Port:            b.Port,
			Weight:          b.Weight,
			Role:            types.BackendRole(b.Role),
			DataDirectory:   b.DataDirectory,
			ApplicationName: b.ApplicationName,
		})
	}
	return nodes
}
