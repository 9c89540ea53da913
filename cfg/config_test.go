package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetConfig() {
	Config = &Configuration{
		Nodes: [3]NodeConfiguration{
			{Host: "127.0.0.1", Port: 3306, User: "root", Database: "central"},
			{Host: "127.0.0.1", Port: 3307, User: "root", Database: "partition1"},
			{Host: "127.0.0.1", Port: 3308, User: "root", Database: "partition2"},
		},
		Pool:       PoolConfiguration{MaxOpenConns: 4, MaxIdleConns: 4, MaxIdleTimeSeconds: 10, MaxLifetimeSeconds: 300},
		Timeouts:   TimeoutConfiguration{ConnectMS: 2000, QueryMS: 2000, HealthProbeMS: 1000},
		Recovery:   RecoveryConfiguration{DrainBatchSize: 10, MaxAttempts: 10, MonitorIntervalMS: 30000, RetryDelayMS: 500},
		HTTP:       HTTPConfiguration{BindAddress: "0.0.0.0", Port: 8080},
		Logging:    LoggingConfiguration{Format: "console"},
		Prometheus: PrometheusConfiguration{Enabled: true, Address: "0.0.0.0", Port: 9090},
	}
}

func TestDefaultsValidate(t *testing.T) {
	resetConfig()
	require.NoError(t, Validate())
}

func TestLoadTOMLOverrides(t *testing.T) {
	resetConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[[nodes]]
host = "db0.internal"
port = 3306
user = "app"
password = "secret"
database = "users_central"

[[nodes]]
host = "db1.internal"
port = 3306
user = "app"
password = "secret"
database = "users_p1"

[[nodes]]
host = "db2.internal"
port = 3306
user = "app"
password = "secret"
database = "users_p2"

[recovery]
drain_batch_size = 25
max_attempts = 5
monitor_interval_ms = 10000
retry_delay_ms = 100

[logging]
verbose = true
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	require.Equal(t, "db0.internal", Config.Nodes[0].Host)
	require.Equal(t, "users_p2", Config.Nodes[2].Database)
	require.Equal(t, 25, Config.Recovery.DrainBatchSize)
	require.Equal(t, 5, Config.Recovery.MaxAttempts)
	require.Equal(t, "json", Config.Logging.Format)
	require.NoError(t, Validate())
}

func TestEnvOverridesWinOverDefaults(t *testing.T) {
	resetConfig()

	t.Setenv("NODE1_HOST", "partition1.db.example.com")
	t.Setenv("NODE1_PORT", "3310")
	t.Setenv("NODE1_USER", "replicator")
	t.Setenv("NODE1_PASSWORD", "hunter2")
	t.Setenv("NODE1_DB", "users_p1")

	applyEnvOverrides()

	require.Equal(t, "partition1.db.example.com", Config.Nodes[1].Host)
	require.Equal(t, 3310, Config.Nodes[1].Port)
	require.Equal(t, "replicator", Config.Nodes[1].User)
	require.Equal(t, "hunter2", Config.Nodes[1].Password)
	require.Equal(t, "users_p1", Config.Nodes[1].Database)

	// Untouched nodes keep their defaults
	require.Equal(t, "127.0.0.1", Config.Nodes[0].Host)
}

func TestEnvOverridesIgnoreBadPort(t *testing.T) {
	resetConfig()
	t.Setenv("NODE2_PORT", "not-a-port")
	applyEnvOverrides()
	require.Equal(t, 3308, Config.Nodes[2].Port)
}

func TestDSN(t *testing.T) {
	n := NodeConfiguration{Host: "db0", Port: 3306, User: "app", Password: "pw", Database: "users"}
	require.Equal(t, "app:pw@tcp(db0:3306)/users?parseTime=true", n.DSN())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func()
	}{
		{"empty host", func() { Config.Nodes[0].Host = "" }},
		{"bad port", func() { Config.Nodes[1].Port = 0 }},
		{"empty database", func() { Config.Nodes[2].Database = "" }},
		{"zero pool", func() { Config.Pool.MaxOpenConns = 0 }},
		{"zero query timeout", func() { Config.Timeouts.QueryMS = 0 }},
		{"zero batch", func() { Config.Recovery.DrainBatchSize = 0 }},
		{"zero attempts", func() { Config.Recovery.MaxAttempts = 0 }},
		{"bad http port", func() { Config.HTTP.Port = 70000 }},
		{"bad log format", func() { Config.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetConfig()
			tt.mutate()
			require.Error(t, Validate())
		})
	}
}
