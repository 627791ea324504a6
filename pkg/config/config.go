package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. PADDOCK_HA_START_RETRY
const EnvPrefix = "PADDOCK"

// Config is resolved once per process and passed into constructors
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Planner PlannerConfig `mapstructure:"planner"`
	HA      HAConfig      `mapstructure:"ha"`
	DRS     DRSConfig     `mapstructure:"drs"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig configures the control-plane process
type ServerConfig struct {
	NodeID        string `mapstructure:"node_id"`
	DataDir       string `mapstructure:"data_dir"`
	RaftBindAddr  string `mapstructure:"raft_bind_addr"`
	HTTPAddr      string `mapstructure:"http_addr"`
	GRPCAddr      string `mapstructure:"grpc_addr"`
	InventoryFile string `mapstructure:"inventory_file"`
}

// PlannerConfig configures deployment planning and reservations
type PlannerConfig struct {
	Default                 string        `mapstructure:"default"`
	HostAllocator           string        `mapstructure:"host_allocator"`
	PoolAllocator           string        `mapstructure:"pool_allocator"`
	ReservationTTL          time.Duration `mapstructure:"reservation_ttl"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval"`
	ClusterDisableThreshold float64       `mapstructure:"cluster_disable_threshold"`
	MaxDeployAttempts       int           `mapstructure:"max_deploy_attempts"`
}

// HAConfig configures the HA recovery engine
type HAConfig struct {
	StartRetry          int           `mapstructure:"start_retry"`
	VmOpWaitInterval    time.Duration `mapstructure:"vm_op_wait_interval"`
	VmOpLockStateRetry  int           `mapstructure:"vm_op_lock_state_retry"`
	VmOpCleanupInterval time.Duration `mapstructure:"vm_op_cleanup_interval"`
	VmOpCleanupWait     time.Duration `mapstructure:"vm_op_cleanup_wait"`
	VmOpCancelInterval  time.Duration `mapstructure:"vm_op_cancel_interval"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	Workers             int           `mapstructure:"workers"`
	FenceCommand        []string      `mapstructure:"fence_command"`
	// AgentProbe is how the agent investigator reaches a host: tcp or http
	AgentProbe          string        `mapstructure:"agent_probe"`
	AgentHealthPath     string        `mapstructure:"agent_health_path"`
}

// DRSConfig configures the rebalancer. Clusters may override the
// per-cluster keys.
type DRSConfig struct {
	IterationsFraction float64                       `mapstructure:"iterations_fraction"`
	ImbalanceThreshold float64                       `mapstructure:"imbalance_threshold"`
	Metric             string                        `mapstructure:"metric"`
	MetricType         string                        `mapstructure:"metric_type"`
	SkipThreshold      float64                       `mapstructure:"skip_threshold"`
	Algorithm          string                        `mapstructure:"algorithm"`
	AutomaticEnable    bool                          `mapstructure:"automatic_enable"`
	AutomaticInterval  time.Duration                 `mapstructure:"automatic_interval"`
	Clusters           map[string]ClusterDRSOverride `mapstructure:"clusters"`
}

// ClusterDRSOverride holds per-cluster DRS settings. Nil fields fall back to
// the global value.
type ClusterDRSOverride struct {
	AutomaticEnable    *bool          `mapstructure:"automatic_enable"`
	AutomaticInterval  *time.Duration `mapstructure:"automatic_interval"`
	ImbalanceThreshold *float64       `mapstructure:"imbalance_threshold"`
	IterationsFraction *float64       `mapstructure:"iterations_fraction"`
	Algorithm          *string        `mapstructure:"algorithm"`
}

// ClusterDRS is the effective DRS configuration for one cluster
type ClusterDRS struct {
	AutomaticEnable    bool
	AutomaticInterval  time.Duration
	ImbalanceThreshold float64
	IterationsFraction float64
	Algorithm          string
	Metric             string
	MetricType         string
	SkipThreshold      float64
}

// Default returns the configuration with every documented default applied
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", JSON: false},
		Server: ServerConfig{
			NodeID:       "paddock-1",
			DataDir:      "./paddock-data",
			RaftBindAddr: "127.0.0.1:7946",
			HTTPAddr:     "127.0.0.1:9090",
			GRPCAddr:     "127.0.0.1:7947",
		},
		Planner: PlannerConfig{
			Default:                 "firstfit",
			HostAllocator:           "firstfit",
			PoolAllocator:           "firstfit",
			ReservationTTL:          10 * time.Minute,
			CleanupInterval:         time.Minute,
			ClusterDisableThreshold: 0.85,
			MaxDeployAttempts:       5,
		},
		HA: HAConfig{
			StartRetry:          10,
			VmOpWaitInterval:    120 * time.Second,
			VmOpLockStateRetry:  5,
			VmOpCleanupInterval: 86400 * time.Second,
			VmOpCleanupWait:     3600 * time.Second,
			VmOpCancelInterval:  3600 * time.Second,
			PingInterval:        60 * time.Second,
			RetryInterval:       60 * time.Second,
			Workers:             4,
			AgentProbe:          "tcp",
			AgentHealthPath:     "/health",
		},
		DRS: DRSConfig{
			IterationsFraction: 0.2,
			ImbalanceThreshold: 0.5,
			Metric:             "memory",
			MetricType:         "used",
			SkipThreshold:      0.95,
			Algorithm:          "balanced",
			AutomaticEnable:    false,
			AutomaticInterval:  60 * time.Minute,
			Clusters:           map[string]ClusterDRSOverride{},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)

	v.SetDefault("server.node_id", d.Server.NodeID)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.raft_bind_addr", d.Server.RaftBindAddr)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.inventory_file", d.Server.InventoryFile)

	v.SetDefault("planner.default", d.Planner.Default)
	v.SetDefault("planner.host_allocator", d.Planner.HostAllocator)
	v.SetDefault("planner.pool_allocator", d.Planner.PoolAllocator)
	v.SetDefault("planner.reservation_ttl", d.Planner.ReservationTTL)
	v.SetDefault("planner.cleanup_interval", d.Planner.CleanupInterval)
	v.SetDefault("planner.cluster_disable_threshold", d.Planner.ClusterDisableThreshold)
	v.SetDefault("planner.max_deploy_attempts", d.Planner.MaxDeployAttempts)

	v.SetDefault("ha.start_retry", d.HA.StartRetry)
	v.SetDefault("ha.vm_op_wait_interval", d.HA.VmOpWaitInterval)
	v.SetDefault("ha.vm_op_lock_state_retry", d.HA.VmOpLockStateRetry)
	v.SetDefault("ha.vm_op_cleanup_interval", d.HA.VmOpCleanupInterval)
	v.SetDefault("ha.vm_op_cleanup_wait", d.HA.VmOpCleanupWait)
	v.SetDefault("ha.vm_op_cancel_interval", d.HA.VmOpCancelInterval)
	v.SetDefault("ha.ping_interval", d.HA.PingInterval)
	v.SetDefault("ha.retry_interval", d.HA.RetryInterval)
	v.SetDefault("ha.workers", d.HA.Workers)
	v.SetDefault("ha.agent_probe", d.HA.AgentProbe)
	v.SetDefault("ha.agent_health_path", d.HA.AgentHealthPath)

	v.SetDefault("drs.iterations_fraction", d.DRS.IterationsFraction)
	v.SetDefault("drs.imbalance_threshold", d.DRS.ImbalanceThreshold)
	v.SetDefault("drs.metric", d.DRS.Metric)
	v.SetDefault("drs.metric_type", d.DRS.MetricType)
	v.SetDefault("drs.skip_threshold", d.DRS.SkipThreshold)
	v.SetDefault("drs.algorithm", d.DRS.Algorithm)
	v.SetDefault("drs.automatic_enable", d.DRS.AutomaticEnable)
	v.SetDefault("drs.automatic_interval", d.DRS.AutomaticInterval)
}

// Load reads the YAML file at path (optional) and PADDOCK_* environment
// variables over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.DRS.Clusters == nil {
		cfg.DRS.Clusters = map[string]ClusterDRSOverride{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engines cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.HA.StartRetry < 1 {
		errs = append(errs, fmt.Errorf("ha.start_retry must be >= 1, got %d", c.HA.StartRetry))
	}
	if c.HA.VmOpLockStateRetry < 1 {
		errs = append(errs, fmt.Errorf("ha.vm_op_lock_state_retry must be >= 1, got %d", c.HA.VmOpLockStateRetry))
	}
	if c.HA.Workers < 1 {
		errs = append(errs, fmt.Errorf("ha.workers must be >= 1, got %d", c.HA.Workers))
	}
	if c.HA.PingInterval <= 0 || c.HA.VmOpWaitInterval <= 0 {
		errs = append(errs, errors.New("ha intervals must be positive"))
	}
	switch c.HA.AgentProbe {
	case "tcp", "http":
	default:
		errs = append(errs, fmt.Errorf("ha.agent_probe must be tcp or http, got %q", c.HA.AgentProbe))
	}
	if c.Planner.MaxDeployAttempts < 1 {
		errs = append(errs, fmt.Errorf("planner.max_deploy_attempts must be >= 1, got %d", c.Planner.MaxDeployAttempts))
	}
	if c.Planner.ReservationTTL <= 0 {
		errs = append(errs, errors.New("planner.reservation_ttl must be positive"))
	}
	if c.DRS.IterationsFraction < 0 || c.DRS.IterationsFraction > 1 {
		errs = append(errs, fmt.Errorf("drs.iterations_fraction must be within [0,1], got %v", c.DRS.IterationsFraction))
	}
	if c.DRS.SkipThreshold <= 0 || c.DRS.SkipThreshold > 1 {
		errs = append(errs, fmt.Errorf("drs.skip_threshold must be within (0,1], got %v", c.DRS.SkipThreshold))
	}
	switch c.DRS.MetricType {
	case "used", "free":
	default:
		errs = append(errs, fmt.Errorf("drs.metric_type must be used or free, got %q", c.DRS.MetricType))
	}
	switch c.DRS.Metric {
	case "cpu", "memory", "storage":
	default:
		errs = append(errs, fmt.Errorf("drs.metric must be cpu, memory or storage, got %q", c.DRS.Metric))
	}

	return errors.Join(errs...)
}

// DRSForCluster resolves the effective DRS settings for a cluster
func (c *Config) DRSForCluster(clusterID string) ClusterDRS {
	out := ClusterDRS{
		AutomaticEnable:    c.DRS.AutomaticEnable,
		AutomaticInterval:  c.DRS.AutomaticInterval,
		ImbalanceThreshold: c.DRS.ImbalanceThreshold,
		IterationsFraction: c.DRS.IterationsFraction,
		Algorithm:          c.DRS.Algorithm,
		Metric:             c.DRS.Metric,
		MetricType:         c.DRS.MetricType,
		SkipThreshold:      c.DRS.SkipThreshold,
	}

	o, ok := c.DRS.Clusters[clusterID]
	if !ok {
		return out
	}
	if o.AutomaticEnable != nil {
		out.AutomaticEnable = *o.AutomaticEnable
	}
	if o.AutomaticInterval != nil {
		out.AutomaticInterval = *o.AutomaticInterval
	}
	if o.ImbalanceThreshold != nil {
		out.ImbalanceThreshold = *o.ImbalanceThreshold
	}
	if o.IterationsFraction != nil {
		out.IterationsFraction = *o.IterationsFraction
	}
	if o.Algorithm != nil {
		out.Algorithm = *o.Algorithm
	}
	return out
}
