package louvain

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultSeed keeps runs reproducible when no seed is configured
const DefaultSeed int64 = 42

// Config manages algorithm configuration using Viper
type Config struct {
	v      *viper.Viper
	logger *zerolog.Logger
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Algorithm parameters
	v.SetDefault("algorithm.max_levels", 10)
	v.SetDefault("algorithm.max_iterations", 100)
	v.SetDefault("algorithm.min_modularity_gain", 1e-7)
	v.SetDefault("algorithm.resolution", 1.0)
	v.SetDefault("algorithm.random_seed", DefaultSeed)

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_progress", false)

	return &Config{v: v}
}

// Getters for algorithm parameters
func (c *Config) MaxLevels() int             { return c.v.GetInt("algorithm.max_levels") }
func (c *Config) MaxIterations() int         { return c.v.GetInt("algorithm.max_iterations") }
func (c *Config) MinModularityGain() float64 { return c.v.GetFloat64("algorithm.min_modularity_gain") }
func (c *Config) Resolution() float64        { return c.v.GetFloat64("algorithm.resolution") }
func (c *Config) RandomSeed() int64          { return c.v.GetInt64("algorithm.random_seed") }
func (c *Config) LogLevel() string           { return c.v.GetString("logging.level") }
func (c *Config) EnableProgress() bool       { return c.v.GetBool("logging.enable_progress") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// WithResolution returns a copy of the configuration using resolution
func (c *Config) WithResolution(resolution float64) *Config {
	v := viper.New()
	for _, key := range c.v.AllKeys() {
		v.Set(key, c.v.Get(key))
	}
	v.Set("algorithm.resolution", resolution)
	return &Config{v: v, logger: c.logger}
}

// SetLogger makes CreateLogger return l instead of a fresh console logger
func (c *Config) SetLogger(l zerolog.Logger) {
	c.logger = &l
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	if c.logger != nil {
		return c.logger.With().Str("stage", "louvain").Logger()
	}

	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "louvain").Logger()
}
