package config

// Settings is the top-level configuration structure for cascade.
type Settings struct {
	// DependencyFile is the path of the service dependency file read at startup.
	DependencyFile string `yaml:"dependencyFile,omitempty"`

	// StopTimeoutMs is the default per-service bound, in milliseconds, on the
	// wait for running dependents to drain before a service forces its stop.
	StopTimeoutMs int `yaml:"stopTimeoutMs,omitempty"`

	// QueueSize is the capacity of the command queue feeding the dispatcher.
	QueueSize int `yaml:"queueSize,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// GetDefaultSettings returns the default configuration for cascade.
func GetDefaultSettings() Settings {
	return Settings{
		DependencyFile: "services.txt",
		StopTimeoutMs:  1500,
		QueueSize:      64,
		LogLevel:       "info",
	}
}
