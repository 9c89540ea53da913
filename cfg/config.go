package cfg

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// NodeRole identifies what a node holds: the full dataset or one partition
type NodeRole string

const (
	RoleMaster NodeRole = "master"
	RoleSlave  NodeRole = "slave"
)

// NodeConfiguration describes one MySQL endpoint
type NodeConfiguration struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// DSN renders the go-sql-driver connection string for this node
func (n NodeConfiguration) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", n.User, n.Password, n.Host, n.Port, n.Database)
}

// PoolConfiguration controls per-node database connection pooling
type PoolConfiguration struct {
	MaxOpenConns       int `toml:"max_open_conns"`
	MaxIdleConns       int `toml:"max_idle_conns"`
	MaxIdleTimeSeconds int `toml:"max_idle_time_seconds"`
	MaxLifetimeSeconds int `toml:"max_lifetime_seconds"`
}

// TimeoutConfiguration bounds every database round-trip
type TimeoutConfiguration struct {
	ConnectMS     int `toml:"connect_ms"`      // Connection acquisition timeout
	QueryMS       int `toml:"query_ms"`        // Per-statement timeout
	HealthProbeMS int `toml:"health_probe_ms"` // Liveness probe timeout
}

// RecoveryConfiguration controls the recovery queue and monitor
type RecoveryConfiguration struct {
	DrainBatchSize    int `toml:"drain_batch_size"`
	MaxAttempts       int `toml:"max_attempts"`        // Retries before an entry is marked failed
	MonitorIntervalMS int `toml:"monitor_interval_ms"` // Background monitor tick interval
	RetryDelayMS      int `toml:"retry_delay_ms"`      // Fixed delay between retry attempts
}

// HTTPConfiguration for the admin/API server
type HTTPConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure.
// Nodes[0] is the master, Nodes[1] and Nodes[2] the partition slaves.
type Configuration struct {
	Nodes [3]NodeConfiguration `toml:"nodes"`

	Pool       PoolConfiguration       `toml:"pool"`
	Timeouts   TimeoutConfiguration    `toml:"timeouts"`
	Recovery   RecoveryConfiguration   `toml:"recovery"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Nodes: [3]NodeConfiguration{
		{Host: "127.0.0.1", Port: 3306, User: "root", Database: "central"},
		{Host: "127.0.0.1", Port: 3307, User: "root", Database: "partition1"},
		{Host: "127.0.0.1", Port: 3308, User: "root", Database: "partition2"},
	},

	Pool: PoolConfiguration{
		MaxOpenConns:       4,
		MaxIdleConns:       4,
		MaxIdleTimeSeconds: 10,
		MaxLifetimeSeconds: 300,
	},

	Timeouts: TimeoutConfiguration{
		ConnectMS:     2000,
		QueryMS:       2000,
		HealthProbeMS: 1000,
	},

	Recovery: RecoveryConfiguration{
		DrainBatchSize:    10,
		MaxAttempts:       10,
		MonitorIntervalMS: 30000,
		RetryDelayMS:      500,
	},

	HTTP: HTTPConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8080,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file, .env and environment, then applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// .env is optional; environment variables win over the file either way
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded .env file")
	}
	applyEnvOverrides()

	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	return nil
}

// applyEnvOverrides reads NODE<i>_HOST/PORT/USER/PASSWORD/DB variables,
// matching the deployment layout the operators already use.
func applyEnvOverrides() {
	for i := range Config.Nodes {
		prefix := fmt.Sprintf("NODE%d_", i)
		if v := os.Getenv(prefix + "HOST"); v != "" {
			Config.Nodes[i].Host = v
		}
		if v := os.Getenv(prefix + "PORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				Config.Nodes[i].Port = port
			} else {
				log.Warn().Str("var", prefix+"PORT").Str("value", v).Msg("Ignoring non-numeric port override")
			}
		}
		if v := os.Getenv(prefix + "USER"); v != "" {
			Config.Nodes[i].User = v
		}
		if v := os.Getenv(prefix + "PASSWORD"); v != "" {
			Config.Nodes[i].Password = v
		}
		if v := os.Getenv(prefix + "DB"); v != "" {
			Config.Nodes[i].Database = v
		}
	}
}

// Validate checks configuration for errors
func Validate() error {
	for i, node := range Config.Nodes {
		if node.Host == "" {
			return fmt.Errorf("node %d: host must not be empty", i)
		}
		if node.Port < 1 || node.Port > 65535 {
			return fmt.Errorf("node %d: invalid port: %d", i, node.Port)
		}
		if node.Database == "" {
			return fmt.Errorf("node %d: database must not be empty", i)
		}
	}

	if Config.Pool.MaxOpenConns < 1 {
		return fmt.Errorf("pool max open conns must be >= 1")
	}

	if Config.Pool.MaxIdleConns < 0 {
		return fmt.Errorf("pool max idle conns must be >= 0")
	}

	if Config.Timeouts.ConnectMS < 1 {
		return fmt.Errorf("connect timeout must be >= 1ms")
	}

	if Config.Timeouts.QueryMS < 1 {
		return fmt.Errorf("query timeout must be >= 1ms")
	}

	if Config.Timeouts.HealthProbeMS < 1 {
		return fmt.Errorf("health probe timeout must be >= 1ms")
	}

	if Config.Recovery.DrainBatchSize < 1 {
		return fmt.Errorf("drain batch size must be >= 1")
	}

	if Config.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery max attempts must be >= 1")
	}

	if Config.Recovery.MonitorIntervalMS < 1 {
		return fmt.Errorf("monitor interval must be >= 1ms")
	}

	if Config.HTTP.Port < 1 || Config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
