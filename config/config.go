// Package config loads stickerdl settings from YAML files and the environment.
package config

import (
	"time"

	"stickerdl/logx"
)

const EnvironPrefix = "STICKERDL_"

type HTTP struct {
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	UserAgent     string        `yaml:"user_agent"`
	Log           bool          `yaml:"log"`
}

type Resolver struct {
	Concurrency    int           `yaml:"concurrency"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
}

type Storage struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

type Server struct {
	Address      string `yaml:"address"`
	PreviewWidth int    `yaml:"preview_width"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type Output struct {
	Dir            string `yaml:"dir"`
	SkipDuplicates bool   `yaml:"skip_duplicates"`
}

type Config struct {
	HTTP     HTTP        `yaml:"http"`
	Resolver Resolver    `yaml:"resolver"`
	Storage  Storage     `yaml:"storage"`
	Server   Server      `yaml:"server"`
	Metrics  Metrics     `yaml:"metrics"`
	Output   Output      `yaml:"output"`
	Logging  logx.Config `yaml:"logging"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Timeout:       time.Minute,
			Retries:       3,
			RetryInterval: time.Second,
			UserAgent:     "stickerdl/1.0",
		},
		Resolver: Resolver{
			Concurrency:    8,
			FetchTimeout:   30 * time.Second,
			ConvertTimeout: 30 * time.Second,
		},
		Storage: Storage{
			Driver: "sqlite",
			DSN:    "file::memory:?cache=shared",
		},
		Server: Server{
			Address:      ":8080",
			PreviewWidth: 100,
		},
		Metrics: Metrics{
			Address: ":9090",
		},
		Output: Output{
			Dir: ".",
		},
		Logging: logx.DefaultConfig,
	}
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	d := Default()
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = d.HTTP.Timeout
	}
	if c.HTTP.Retries <= 0 {
		c.HTTP.Retries = 1
	}
	if c.HTTP.RetryInterval <= 0 {
		c.HTTP.RetryInterval = d.HTTP.RetryInterval
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = d.HTTP.UserAgent
	}
	if c.Resolver.Concurrency <= 0 {
		c.Resolver.Concurrency = d.Resolver.Concurrency
	}
	if c.Resolver.FetchTimeout <= 0 {
		c.Resolver.FetchTimeout = d.Resolver.FetchTimeout
	}
	if c.Resolver.ConvertTimeout <= 0 {
		c.Resolver.ConvertTimeout = d.Resolver.ConvertTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = d.Storage.DSN
	}
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.PreviewWidth <= 0 {
		c.Server.PreviewWidth = d.Server.PreviewWidth
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = d.Metrics.Address
	}
	if c.Output.Dir == "" {
		c.Output.Dir = d.Output.Dir
	}
	if len(c.Logging.Default.Output) == 0 {
		c.Logging.Default.Output = d.Logging.Default.Output
	}
	if c.Logging.Default.Level == "" {
		c.Logging.Default.Level = d.Logging.Default.Level
	}
}
