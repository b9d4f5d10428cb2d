package compaction

import (
	"fmt"
)

// Default configuration values based on production patterns.
const (
	DefaultThreshold              = 0.75     // Compact at 75% of the context window
	DefaultKeep                   = KeepHalf // Drop half of the remaining turns per compaction
	DefaultContextWindow          = 128000   // Used when the model reports no window
	DefaultReservedBuffer         = 40000    // Room for the largest expected single-turn output
	DefaultOptimizationSufficient = 0.30     // Skip truncation when dedup saved 30% of characters
	DefaultMinWindowFraction      = 0.8      // Lower bound of maxAllowedSize for unlisted windows
)

// Config holds compaction configuration.
type Config struct {
	// Threshold is the fraction (0.0-1.0] of the context window that triggers
	// compaction. Zero means "use the fixed maxAllowedSize". Small values are
	// honored as-is.
	// Default: 0.75 (DefaultConfig only)
	Threshold float64 `yaml:"threshold"`

	// Keep is the keep-fraction policy used for range selection.
	// Default: KeepHalf
	Keep Keep `yaml:"keep"`

	// ReservedBuffers maps exact context window sizes to the tokens reserved
	// for model output. Windows not listed use max(window-DefaultReservedBuffer,
	// window*DefaultMinWindowFraction).
	// Default: DefaultReservedBuffers
	ReservedBuffers map[int]int `yaml:"reserved_buffers"`

	// OptimizationSufficient is the fraction of characters the duplicate-content
	// pass must save for the manager to skip truncation.
	// Default: 0.30
	OptimizationSufficient float64 `yaml:"optimization_sufficient"`

	// DisableOptimization turns off the duplicate-content pass in the manager.
	// Default: false
	DisableOptimization bool `yaml:"disable_optimization"`

	// TruncationNotice controls whether the first assistant turn of a truncated
	// transcript is annotated with TruncationNoticeText.
	// Default: true (nil)
	TruncationNotice *bool `yaml:"truncation_notice"`
}

// DefaultReservedBuffers are the output reservations of common context windows.
var DefaultReservedBuffers = map[int]int{
	64000:  27000, // deepseek models
	128000: 30000, // most models
	200000: 40000, // claude models
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	c := &Config{Threshold: DefaultThreshold}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero values with defaults. Threshold is left alone:
// zero selects the fixed maxAllowedSize.
func (c *Config) ApplyDefaults() {
	if c.Keep == "" {
		c.Keep = DefaultKeep
	}
	if c.ReservedBuffers == nil {
		c.ReservedBuffers = make(map[int]int, len(DefaultReservedBuffers))
		for window, reserved := range DefaultReservedBuffers {
			c.ReservedBuffers[window] = reserved
		}
	}
	if c.OptimizationSufficient == 0 {
		c.OptimizationSufficient = DefaultOptimizationSufficient
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1.0 {
		return fmt.Errorf("%w: threshold must be between 0 and 1, got %f", ErrInvalidConfig, c.Threshold)
	}

	if _, err := ParseKeep(string(c.Keep)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for window, reserved := range c.ReservedBuffers {
		if window <= 0 {
			return fmt.Errorf("%w: reserved_buffers window must be positive, got %d", ErrInvalidConfig, window)
		}
		if reserved < 0 || reserved >= window {
			return fmt.Errorf("%w: reserved_buffers[%d] must be in [0, %d), got %d",
				ErrInvalidConfig, window, window, reserved)
		}
	}

	if c.OptimizationSufficient < 0 || c.OptimizationSufficient > 1.0 {
		return fmt.Errorf("%w: optimization_sufficient must be between 0 and 1, got %f",
			ErrInvalidConfig, c.OptimizationSufficient)
	}

	return nil
}

// truncationNotice reports whether the truncation notice is enabled.
func (c *Config) truncationNotice() bool {
	return c.TruncationNotice == nil || *c.TruncationNotice
}
