// Package config loads runtime configuration from environment variables and
// an optional YAML file via viper. Every volume-attribution heuristic used by
// the tape engine is configurable here rather than hard-coded; the defaults
// mirror the values the analysis was originally tuned with.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TapeConfig parameterizes the tape analysis engine.
type TapeConfig struct {
	TickSize                float64       `mapstructure:"tick_size"`
	RecentTicks             int           `mapstructure:"recent_ticks"`
	TapeBufferSize          int           `mapstructure:"tape_buffer_size"`
	LevelRetention          time.Duration `mapstructure:"level_retention"`
	LevelVolumeFraction     float64       `mapstructure:"level_volume_fraction"`
	LevelBuySplit           float64       `mapstructure:"level_buy_split"`
	ClusterDistance         float64       `mapstructure:"cluster_distance"`
	ClusterWindow           time.Duration `mapstructure:"cluster_window"`
	ClusterBuySplit         float64       `mapstructure:"cluster_buy_split"`
	MaxClusters             int           `mapstructure:"max_clusters"`
	AbsorptionShare         float64       `mapstructure:"absorption_share"`
	ClusterAbsorptionVolume float64       `mapstructure:"cluster_absorption_volume"`
	LevelAbsorptionVolume   float64       `mapstructure:"level_absorption_volume"`
	TrendTicks              int           `mapstructure:"trend_ticks"`
	TrendRatio              float64       `mapstructure:"trend_ratio"`
	LargeVolume             float64       `mapstructure:"large_volume"`
	DominantVolume          float64       `mapstructure:"dominant_volume"`
	AggressionWindow        int           `mapstructure:"aggression_window"`
	AggressorLookback       int           `mapstructure:"aggressor_lookback"`
	FalseOrderLookback      int           `mapstructure:"false_order_lookback"`
	FalseOrderMinCount      int           `mapstructure:"false_order_min_count"`
	FalseOrderStdRatio      float64       `mapstructure:"false_order_std_ratio"`

	// Pattern detector thresholds.
	AggressiveFlowMin     float64       `mapstructure:"aggressive_flow_min"`
	AbsorptionMinVolume   float64       `mapstructure:"absorption_min_volume"`
	HiddenMinVolume       float64       `mapstructure:"hidden_min_volume"`
	HiddenWindow          time.Duration `mapstructure:"hidden_window"`
	BreakoutFastTicks     int           `mapstructure:"breakout_fast_ticks"`
	BreakoutSlowTicks     int           `mapstructure:"breakout_slow_ticks"`
	BreakoutRatio         float64       `mapstructure:"breakout_ratio"`
}

// RiskConfig parameterizes the position and risk engine.
type RiskConfig struct {
	MaxPositions      int           `mapstructure:"max_positions"`
	StartingValue     float64       `mapstructure:"starting_value"`
	StopLossPoints    float64       `mapstructure:"stop_loss_points"`
	TakeProfitPoints  float64       `mapstructure:"take_profit_points"`
	CommissionPerUnit float64       `mapstructure:"commission_per_unit"`
	SlippageFactor    float64       `mapstructure:"slippage_factor"`
	UpdateThreshold   float64       `mapstructure:"update_threshold"`
	VaRConfidence     float64       `mapstructure:"var_confidence"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`
	ReturnHistorySize int           `mapstructure:"return_history_size"`
}

// FeedConfig parameterizes the websocket ingestion collaborator.
type FeedConfig struct {
	URL               string        `mapstructure:"url"`
	Symbol            string        `mapstructure:"symbol"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// MLConfig parameterizes the prediction-service client.
type MLConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OrchestratorConfig gates how pattern and ML signals become trade decisions.
type OrchestratorConfig struct {
	MinConfidence float64       `mapstructure:"min_confidence"`
	TradeCooldown time.Duration `mapstructure:"trade_cooldown"`
	PositionSize  float64       `mapstructure:"position_size"`
}

// RedisConfig parameterizes the optional snapshot store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ServerConfig parameterizes the HTTP status surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root configuration document.
type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	Tape         TapeConfig         `mapstructure:"tape"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Feed         FeedConfig         `mapstructure:"feed"`
	ML           MLConfig           `mapstructure:"ml"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Server       ServerConfig       `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("tape.tick_size", 0.5)
	v.SetDefault("tape.recent_ticks", 100)
	v.SetDefault("tape.tape_buffer_size", 1000)
	v.SetDefault("tape.level_retention", 30*time.Minute)
	v.SetDefault("tape.level_volume_fraction", 0.1)
	v.SetDefault("tape.level_buy_split", 0.7)
	v.SetDefault("tape.cluster_distance", 5.0)
	v.SetDefault("tape.cluster_window", time.Minute)
	v.SetDefault("tape.cluster_buy_split", 0.6)
	v.SetDefault("tape.max_clusters", 50)
	v.SetDefault("tape.absorption_share", 0.7)
	v.SetDefault("tape.cluster_absorption_volume", 200.0)
	v.SetDefault("tape.level_absorption_volume", 500.0)
	v.SetDefault("tape.trend_ticks", 10)
	v.SetDefault("tape.trend_ratio", 1.5)
	v.SetDefault("tape.large_volume", 50.0)
	v.SetDefault("tape.dominant_volume", 100.0)
	v.SetDefault("tape.aggression_window", 20)
	v.SetDefault("tape.aggressor_lookback", 5)
	v.SetDefault("tape.false_order_lookback", 10)
	v.SetDefault("tape.false_order_min_count", 3)
	v.SetDefault("tape.false_order_std_ratio", 0.5)
	v.SetDefault("tape.aggressive_flow_min", 0.6)
	v.SetDefault("tape.absorption_min_volume", 300.0)
	v.SetDefault("tape.hidden_min_volume", 500.0)
	v.SetDefault("tape.hidden_window", 5*time.Minute)
	v.SetDefault("tape.breakout_fast_ticks", 5)
	v.SetDefault("tape.breakout_slow_ticks", 15)
	v.SetDefault("tape.breakout_ratio", 2.5)

	v.SetDefault("risk.max_positions", 3)
	v.SetDefault("risk.starting_value", 10000.0)
	v.SetDefault("risk.stop_loss_points", 1.5)
	v.SetDefault("risk.take_profit_points", 3.0)
	v.SetDefault("risk.commission_per_unit", 0.25)
	v.SetDefault("risk.slippage_factor", 0.001)
	v.SetDefault("risk.update_threshold", 1.0)
	v.SetDefault("risk.var_confidence", 0.95)
	v.SetDefault("risk.snapshot_interval", time.Minute)
	v.SetDefault("risk.snapshot_retention", 7*24*time.Hour)
	v.SetDefault("risk.return_history_size", 252)

	v.SetDefault("feed.url", "ws://localhost:8081/stream")
	v.SetDefault("feed.symbol", "WDOFUT")
	v.SetDefault("feed.reconnect_interval", 2*time.Second)
	v.SetDefault("feed.max_backoff", time.Minute)

	v.SetDefault("ml.base_url", "http://localhost:8000")
	v.SetDefault("ml.timeout", 5*time.Second)

	v.SetDefault("orchestrator.min_confidence", 70.0)
	v.SetDefault("orchestrator.trade_cooldown", 30*time.Second)
	v.SetDefault("orchestrator.position_size", 1.0)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("server.addr", ":8080")
}

// Load reads configuration from the given file (optional) and the
// environment. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TAPEFLOW")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if c.Tape.TickSize <= 0 {
		return fmt.Errorf("tape.tick_size must be positive, got %v", c.Tape.TickSize)
	}
	if c.Tape.LevelBuySplit < 0 || c.Tape.LevelBuySplit > 1 {
		return fmt.Errorf("tape.level_buy_split must be in [0,1], got %v", c.Tape.LevelBuySplit)
	}
	if c.Tape.ClusterBuySplit < 0 || c.Tape.ClusterBuySplit > 1 {
		return fmt.Errorf("tape.cluster_buy_split must be in [0,1], got %v", c.Tape.ClusterBuySplit)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.StartingValue <= 0 {
		return fmt.Errorf("risk.starting_value must be positive, got %v", c.Risk.StartingValue)
	}
	if c.Risk.VaRConfidence <= 0 || c.Risk.VaRConfidence >= 1 {
		return fmt.Errorf("risk.var_confidence must be in (0,1), got %v", c.Risk.VaRConfidence)
	}
	return nil
}
