package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Simulation SimulationConfig
	Harvest    HarvestConfig
	Database   DatabaseConfig
	Server     ServerConfig
}

// SimulationConfig holds the engine tunables. Intervals are real time.
type SimulationConfig struct {
	PriceTickInterval  time.Duration `mapstructure:"price_tick_interval"`
	ProfitTickInterval time.Duration `mapstructure:"profit_tick_interval"`
	FrameInterval      time.Duration `mapstructure:"frame_interval"`

	DemoMoveDuration time.Duration `mapstructure:"demo_move_duration"`
	DemoMinPrice     float64       `mapstructure:"demo_min_price"`
	DemoMaxPrice     float64       `mapstructure:"demo_max_price"`
	DemoMaxStep      int           `mapstructure:"demo_max_step"`
	DemoEpsilon      float64       `mapstructure:"demo_epsilon"`

	BoundedConvergence float64 `mapstructure:"bounded_convergence"`
	RandomConvergence  float64 `mapstructure:"random_convergence"`
	DemoConvergence    float64 `mapstructure:"demo_convergence"`
	ManualConvergence  float64 `mapstructure:"manual_convergence"`

	RandomWalkVolatility float64 `mapstructure:"random_walk_volatility"`
	MinPrice             float64 `mapstructure:"min_price"`

	RebalanceHalfWidth   float64       `mapstructure:"rebalance_half_width"`
	AutoRebalanceDelay   time.Duration `mapstructure:"auto_rebalance_delay"`
	AnimationFlagReset   time.Duration `mapstructure:"animation_flag_reset"`
	AutoRebalanceHold    time.Duration `mapstructure:"auto_rebalance_hold"`
	NotifyThrottle       time.Duration `mapstructure:"notify_throttle"`
	MaxListeners         int           `mapstructure:"max_listeners"`
	MaxSimulatedDuration time.Duration `mapstructure:"max_simulated_duration"`

	InitialPrice       float64 `mapstructure:"initial_price"`
	InitialRangeCenter float64 `mapstructure:"initial_range_center"`
	InitialRangeWidth  float64 `mapstructure:"initial_range_width"`
	InitialRangeMin    float64 `mapstructure:"initial_range_min"`
	InitialRangeMax    float64 `mapstructure:"initial_range_max"`
}

// HarvestConfig defines the caller-side accounting applied on harvest.
type HarvestConfig struct {
	ManagementFeeRate  float64 `mapstructure:"management_fee_rate"`
	CompoundingEnabled bool    `mapstructure:"compounding_enabled"`
	AlertStep          float64 `mapstructure:"alert_step"`
}

// DatabaseConfig defines the database connection settings.
// An empty host disables persistence.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Enabled reports whether a database has been configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN builds a postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// ServerConfig defines the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DefaultSimulation returns the engine defaults.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		PriceTickInterval:  time.Second,
		ProfitTickInterval: 500 * time.Millisecond,
		FrameInterval:      100 * time.Millisecond,

		DemoMoveDuration: 2 * time.Second,
		DemoMinPrice:     120,
		DemoMaxPrice:     180,
		DemoMaxStep:      3,
		DemoEpsilon:      0.01,

		BoundedConvergence: 0.5,
		RandomConvergence:  0.02,
		DemoConvergence:    0.3,
		ManualConvergence:  0.5,

		RandomWalkVolatility: 0.001,
		MinPrice:             1,

		RebalanceHalfWidth:   5,
		AutoRebalanceDelay:   500 * time.Millisecond,
		AnimationFlagReset:   100 * time.Millisecond,
		AutoRebalanceHold:    1500 * time.Millisecond,
		NotifyThrottle:       500 * time.Millisecond,
		MaxListeners:         10,
		MaxSimulatedDuration: 10 * 365 * 24 * time.Hour,

		InitialPrice:       153,
		InitialRangeCenter: 155,
		InitialRangeWidth:  10,
		InitialRangeMin:    140,
		InitialRangeMax:    150,
	}
}

// DefaultHarvest returns the harvest defaults.
func DefaultHarvest() HarvestConfig {
	return HarvestConfig{
		ManagementFeeRate: 0.1,
		AlertStep:         5,
	}
}

func setDefaults(v *viper.Viper) {
	sim := DefaultSimulation()
	v.SetDefault("simulation.price_tick_interval", sim.PriceTickInterval)
	v.SetDefault("simulation.profit_tick_interval", sim.ProfitTickInterval)
	v.SetDefault("simulation.frame_interval", sim.FrameInterval)
	v.SetDefault("simulation.demo_move_duration", sim.DemoMoveDuration)
	v.SetDefault("simulation.demo_min_price", sim.DemoMinPrice)
	v.SetDefault("simulation.demo_max_price", sim.DemoMaxPrice)
	v.SetDefault("simulation.demo_max_step", sim.DemoMaxStep)
	v.SetDefault("simulation.demo_epsilon", sim.DemoEpsilon)
	v.SetDefault("simulation.bounded_convergence", sim.BoundedConvergence)
	v.SetDefault("simulation.random_convergence", sim.RandomConvergence)
	v.SetDefault("simulation.demo_convergence", sim.DemoConvergence)
	v.SetDefault("simulation.manual_convergence", sim.ManualConvergence)
	v.SetDefault("simulation.random_walk_volatility", sim.RandomWalkVolatility)
	v.SetDefault("simulation.min_price", sim.MinPrice)
	v.SetDefault("simulation.rebalance_half_width", sim.RebalanceHalfWidth)
	v.SetDefault("simulation.auto_rebalance_delay", sim.AutoRebalanceDelay)
	v.SetDefault("simulation.animation_flag_reset", sim.AnimationFlagReset)
	v.SetDefault("simulation.auto_rebalance_hold", sim.AutoRebalanceHold)
	v.SetDefault("simulation.notify_throttle", sim.NotifyThrottle)
	v.SetDefault("simulation.max_listeners", sim.MaxListeners)
	v.SetDefault("simulation.max_simulated_duration", sim.MaxSimulatedDuration)
	v.SetDefault("simulation.initial_price", sim.InitialPrice)
	v.SetDefault("simulation.initial_range_center", sim.InitialRangeCenter)
	v.SetDefault("simulation.initial_range_width", sim.InitialRangeWidth)
	v.SetDefault("simulation.initial_range_min", sim.InitialRangeMin)
	v.SetDefault("simulation.initial_range_max", sim.InitialRangeMax)

	h := DefaultHarvest()
	v.SetDefault("harvest.management_fee_rate", h.ManagementFeeRate)
	v.SetDefault("harvest.compounding_enabled", h.CompoundingEnabled)
	v.SetDefault("harvest.alert_step", h.AlertStep)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{})
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}
