package geolocation

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes a single acquisition run.
type Config struct {
	// AccuracyThreshold is the accuracy, in meters, a sample must beat to be
	// retained in the averaging window.
	AccuracyThreshold float64 `yaml:"accuracy_threshold"`
	// ExcellentAccuracy allows accepting before the soft deadline.
	ExcellentAccuracy float64 `yaml:"excellent_accuracy"`
	// WarmupSamples are discarded before anything is retained.
	WarmupSamples int `yaml:"warmup_samples"`
	WindowSize    int `yaml:"window_size"`
	// MinWindow is the number of retained samples needed before a fix is
	// averaged and can be accepted.
	MinWindow          int           `yaml:"min_window"`
	HardDeadline       time.Duration `yaml:"hard_deadline"`
	SoftAcceptDeadline time.Duration `yaml:"soft_accept_deadline"`
	HighAccuracy       bool          `yaml:"high_accuracy"`
	MaxSampleAge       time.Duration `yaml:"max_sample_age"`
	// SampleTimeout is handed to the capability for each underlying request.
	SampleTimeout        time.Duration `yaml:"sample_timeout"`
	RequireSecureContext bool          `yaml:"require_secure_context"`
}

const (
	ProfilePrecise = "precise"
	ProfileQuick   = "quick"
)

// DefaultConfig returns the precise profile.
func DefaultConfig() Config {
	return Config{
		AccuracyThreshold:  100,
		ExcellentAccuracy:  20,
		WarmupSamples:      3,
		WindowSize:         5,
		MinWindow:          3,
		HardDeadline:       30 * time.Second,
		SoftAcceptDeadline: 20 * time.Second,
		HighAccuracy:       true,
		SampleTimeout:      10 * time.Second,
	}
}

// QuickConfig favors a fast answer over a settled one.
func QuickConfig() Config {
	cfg := DefaultConfig()
	cfg.WarmupSamples = 0
	cfg.ExcellentAccuracy = 15
	cfg.HardDeadline = 15 * time.Second
	cfg.SoftAcceptDeadline = 12 * time.Second
	return cfg
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.AccuracyThreshold <= 0:
		return fmt.Errorf("accuracy threshold must be positive, got %v", c.AccuracyThreshold)
	case c.ExcellentAccuracy <= 0 || c.ExcellentAccuracy >= c.AccuracyThreshold:
		return fmt.Errorf("excellent accuracy must be in (0, %v), got %v", c.AccuracyThreshold, c.ExcellentAccuracy)
	case c.WarmupSamples < 0:
		return fmt.Errorf("warmup samples must not be negative, got %d", c.WarmupSamples)
	case c.MinWindow < 1:
		return fmt.Errorf("min window must be at least 1, got %d", c.MinWindow)
	case c.WindowSize < c.MinWindow:
		return fmt.Errorf("window size %d is smaller than min window %d", c.WindowSize, c.MinWindow)
	case c.HardDeadline <= 0:
		return fmt.Errorf("hard deadline must be positive, got %v", c.HardDeadline)
	case c.SoftAcceptDeadline <= 0 || c.SoftAcceptDeadline >= c.HardDeadline:
		return fmt.Errorf("soft accept deadline must be in (0, %v), got %v", c.HardDeadline, c.SoftAcceptDeadline)
	case c.MaxSampleAge < 0:
		return fmt.Errorf("max sample age must not be negative, got %v", c.MaxSampleAge)
	}
	return nil
}

func (c Config) positionOptions() PositionOptions {
	return PositionOptions{
		HighAccuracy: c.HighAccuracy,
		Timeout:      c.SampleTimeout,
		MaxAge:       c.MaxSampleAge,
	}
}

// Profiles maps profile names to configurations.
type Profiles map[string]Config

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		ProfilePrecise: DefaultConfig(),
		ProfileQuick:   QuickConfig(),
	}
}

// Get returns the named profile.
func (p Profiles) Get(name string) (Config, error) {
	cfg, ok := p[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown acquisition profile %q (have %v)", name, p.Names())
	}
	return cfg, nil
}

func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfiles reads profiles from a YAML file on top of the built-in ones.
// Fields omitted in the file keep the precise defaults.
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	for name, node := range raw {
		cfg, ok := profiles[name]
		if !ok {
			cfg = DefaultConfig()
		}
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = cfg
	}
	return profiles, nil
}
