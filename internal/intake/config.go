package intake

import "time"

// Config is the engine configuration resolved at startup.
type Config struct {
	TotalSteps            int           `yaml:"total_steps"`
	ValidateOnStepChange  bool          `yaml:"validate_on_step_change"`
	ShowSummaryBeforeSave bool          `yaml:"show_summary_before_save"`
	AutoSaveEnabled       bool          `yaml:"autosave_enabled"`
	AutoSaveInterval      time.Duration `yaml:"autosave_interval"`
	Version               string        `yaml:"version"`
	GatewayTimeout        time.Duration `yaml:"gateway_timeout"`
}

// DefaultConfig mirrors the settings the form ships with.
func DefaultConfig() Config {
	return Config{
		TotalSteps:            5,
		ValidateOnStepChange:  true,
		ShowSummaryBeforeSave: true,
		AutoSaveEnabled:       true,
		AutoSaveInterval:      30 * time.Second,
		Version:               "1.0.0",
		GatewayTimeout:        10 * time.Second,
	}
}

// normalized fills zero values with defaults. A form needs at least the
// demographics step and a final step.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.TotalSteps < 2 {
		c.TotalSteps = def.TotalSteps
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = def.AutoSaveInterval
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = def.GatewayTimeout
	}
	return c
}
