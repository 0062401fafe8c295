// Package config loads the engine's ambient settings — defaults for
// compression, ciphering, slice size, and logging — from a config file
// plus environment overrides, using viper the way the teacher's own
// config layer (fs/config) binds its global options.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/dargo-project/dargo/internal/stack"
)

// Config holds the settings a dargo invocation falls back to when a flag
// isn't given explicitly on the command line.
type Config struct {
	Compression        stack.CompressorAlgo `mapstructure:"compression"`
	CompressionLevel   int                  `mapstructure:"compression_level"`
	CompressionMinSize int64                `mapstructure:"compression_min_size"`
	Cipher             stack.CipherAlgo     `mapstructure:"cipher"`
	KDFIterations      int                  `mapstructure:"kdf_iterations"`
	SliceSize          int64                `mapstructure:"slice_size"`
	LogLevel           string               `mapstructure:"log_level"`
}

// Default mirrors the engine's documented defaults (spec §4.4's default
// policy aside, these are the byte-stream stack's own defaults).
var Default = Config{
	Compression:      stack.CompressNone,
	CompressionLevel: 6,
	Cipher:           "",
	KDFIterations:    200000,
	LogLevel:         "info",
}

// Load reads configPath (if non-empty) plus DARGO_-prefixed environment
// variables into a Config seeded with Default.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DARGO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("compression", string(Default.Compression))
	v.SetDefault("compression_level", Default.CompressionLevel)
	v.SetDefault("kdf_iterations", Default.KDFIterations)
	v.SetDefault("log_level", Default.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	cfg := Default
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
