package orchestrate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"phonoflow/internal/properties"
)

// ResumePolicy decides what happens to jobs whose completion was never
// observed before a crash.
type ResumePolicy string

const (
	// ResumeRepoll re-queries the adapter for every recorded in-flight
	// job id.
	ResumeRepoll ResumePolicy = "repoll"
	// ResumeResubmit abandons recorded job ids and submits fresh jobs.
	ResumeResubmit ResumePolicy = "resubmit"
)

// Config is the workflow configuration. Zero values are filled from
// DefaultConfig by LoadConfig; a hand-built Config should start from
// DefaultConfig too.
type Config struct {
	DisplacementDistance float64       `yaml:"displacement_distance"`
	SymmetryTolerance    float64       `yaml:"symmetry_tolerance"`
	RunOptimization      bool          `yaml:"run_optimization"`
	UseNac               bool          `yaml:"use_nac"`
	RequestedProperties  []string      `yaml:"requested_properties"`
	MaxJobRetries        int           `yaml:"max_job_retries"`
	MaxInFlight          int           `yaml:"max_in_flight"`
	JobTimeout           time.Duration `yaml:"job_timeout"`
	ResumePolicy         ResumePolicy  `yaml:"resume_policy"`

	Properties properties.StageConfig `yaml:"properties"`
}

// DefaultConfig mirrors the library defaults: 0.01 displacement distance,
// 1e-5 symmetry tolerance, fan-out window of 100 jobs, repoll on resume.
func DefaultConfig() Config {
	return Config{
		DisplacementDistance: 0.01,
		SymmetryTolerance:    1e-5,
		MaxJobRetries:        2,
		MaxInFlight:          100,
		JobTimeout:           0, // no per-job timeout unless configured
		ResumePolicy:         ResumeRepoll,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, configErrorf("parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every enumerated option, including the per-property
// inputs each requested stage declares it needs.
func (c *Config) Validate() error {
	if c.DisplacementDistance <= 0 {
		return configErrorf("displacement_distance must be positive, got %g", c.DisplacementDistance)
	}
	if c.SymmetryTolerance < 0 {
		return configErrorf("symmetry_tolerance must be non-negative, got %g", c.SymmetryTolerance)
	}
	if c.MaxJobRetries < 0 {
		return configErrorf("max_job_retries must be >= 0, got %d", c.MaxJobRetries)
	}
	if c.MaxInFlight < 1 {
		return configErrorf("max_in_flight must be >= 1, got %d", c.MaxInFlight)
	}
	if c.JobTimeout < 0 {
		return configErrorf("job_timeout must be >= 0, got %s", c.JobTimeout)
	}
	switch c.ResumePolicy {
	case ResumeRepoll, ResumeResubmit:
	default:
		return configErrorf("resume_policy must be %q or %q, got %q", ResumeRepoll, ResumeResubmit, c.ResumePolicy)
	}
	seen := make(map[properties.Kind]bool)
	for _, name := range c.RequestedProperties {
		kind, err := properties.ParseKind(name)
		if err != nil {
			return configErrorf("requested_properties: %v", err)
		}
		if seen[kind] {
			return configErrorf("requested_properties lists %s twice", kind)
		}
		seen[kind] = true
		if err := kind.Validate(c.Properties); err != nil {
			return configErrorf("%v", err)
		}
	}
	return nil
}

// Kinds returns the requested property kinds in canonical order.
func (c *Config) Kinds() []properties.Kind {
	requested := make(map[string]bool, len(c.RequestedProperties))
	for _, name := range c.RequestedProperties {
		requested[name] = true
	}
	var out []properties.Kind
	for _, k := range properties.All {
		if requested[string(k)] {
			out = append(out, k)
		}
	}
	return out
}
