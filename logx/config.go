package logx

type (
	// LoggerConfig defines the minimal level and outputs of a single logger.
	LoggerConfig struct {

		// Level is the lowest log level to be printed.
		Level string `yaml:"level"`

		// Output is the list of outputs.
		// Two special values exist:
		// stdout - standard output
		// stderr - standard error output
		// Any other value is treated as a file path.
		Output []string `yaml:"output"`

		// Color enables colored level names.
		Color bool `yaml:"color"`
	}

	// Config configures the logger registry.
	Config struct {

		// Default configuration is used when a logger name is not recognized.
		Default LoggerConfig `yaml:"default"`

		// Custom contains logger-specific configurations resolved by name.
		Custom map[string]LoggerConfig `yaml:"custom"`
	}
)

var DefaultConfig = Config{
	Default: LoggerConfig{
		Level:  "info",
		Output: []string{"stderr"},
	},
}

func (c Config) get(name string) LoggerConfig {
	if config, ok := c.Custom[name]; ok {
		return config
	}

	return c.Default
}
