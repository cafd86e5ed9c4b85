package config

import "fmt"

// ProfileTypes lists the profile names accepted in ProfilingConfig.ProfileTypes
var ProfileTypes = []string{
	"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines", "mutex", "block",
}

// ProfilingConfig contains Pyroscope profiling configuration
type ProfilingConfig struct {
	Enabled           bool              `yaml:"enabled" env:"PYROSCOPE_ENABLED" env-default:"false"`
	ApplicationName   string            `yaml:"applicationName" env:"PYROSCOPE_APPLICATION_NAME" env-default:"esb-smart-meter"`
	ServerAddress     string            `yaml:"serverAddress" env:"PYROSCOPE_SERVER_ADDRESS"`
	BasicAuthUser     string            `yaml:"basicAuthUser" env:"PYROSCOPE_BASIC_AUTH_USER"`
	BasicAuthPassword string            `yaml:"basicAuthPassword" env:"PYROSCOPE_BASIC_AUTH_PASSWORD"`
	TenantID          string            `yaml:"tenantID" env:"PYROSCOPE_TENANT_ID"`
	Tags              map[string]string `yaml:"tags"`
	// ProfileTypes selects profiles by name, see ProfileTypes
	ProfileTypes []string `yaml:"profileTypes" env:"PYROSCOPE_PROFILE_TYPES" env-default:"cpu,alloc_space,inuse_space"`
	// SampleRate applies to the mutex and block profiles
	SampleRate int `yaml:"sampleRate" env:"PYROSCOPE_SAMPLE_RATE" env-default:"5"`
}

// Validate checks the configuration when profiling is enabled
func (c *ProfilingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ApplicationName == "" {
		return fmt.Errorf("profiling applicationName is required when profiling is enabled")
	}
	if c.ServerAddress == "" {
		return fmt.Errorf("profiling serverAddress is required when profiling is enabled")
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("profiling sampleRate must be >= 0")
	}
	if len(c.ProfileTypes) == 0 {
		return fmt.Errorf("at least one profile type must be enabled")
	}

	known := make(map[string]bool, len(ProfileTypes))
	for _, name := range ProfileTypes {
		known[name] = true
	}
	for _, name := range c.ProfileTypes {
		if !known[name] {
			return fmt.Errorf("unknown profile type %q", name)
		}
	}

	return nil
}
