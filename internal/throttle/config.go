package throttle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultErrorThreshold is the number of failures per base interval that
// triggers a rate decrease when Config.ErrorThreshold is left at zero.
const DefaultErrorThreshold = 5

// ErrorThresholdAlways makes every rate controller pass count as a breach,
// so the rate walks down to MinRate regardless of failures.
const ErrorThresholdAlways = -1

// slowIntervalWarning is the effective interval below which timer overhead
// starts to dominate dispatch accuracy.
const slowIntervalWarning = 200 * time.Millisecond

var (
	ErrInvalidMinRate   = errors.New("throttle: min rate must be greater than 0")
	ErrInvalidMaxRate   = errors.New("throttle: max rate is less than min rate")
	ErrInvalidInterval  = errors.New("throttle: interval must be positive")
	ErrInvalidThreshold = errors.New("throttle: error threshold must be ErrorThresholdAlways or non-negative")
	ErrInvalidRetries   = errors.New("throttle: max retries must not be negative")
)

// Config holds the parameters of a Throttle. It is copied on construction
// and never mutated afterwards.
type Config struct {
	// MinRate is the lower bound of the adaptive rate, in items per
	// BaseInterval.
	MinRate int

	// MaxRate is the upper bound of the adaptive rate. Zero means MinRate.
	MaxRate int

	// BaseInterval is the nominal period. Dispatch starts from it and the
	// rate controller runs on it.
	BaseInterval time.Duration

	// EvenlySpaced releases one item every BaseInterval/rate instead of a
	// batch of rate items every BaseInterval.
	EvenlySpaced bool

	// ErrorThreshold is the number of failures within one BaseInterval that
	// triggers a rate decrease. Zero means DefaultErrorThreshold and
	// ErrorThresholdAlways decreases on every pass.
	ErrorThreshold int

	// BackOff pauses dispatch for one extra BaseInterval after the error
	// threshold is crossed.
	BackOff bool

	// MaxRetries is how many times a failed item is re-enqueued. Zero
	// disables retries.
	MaxRetries int
}

// DefaultConfig returns a Config with the documented defaults: evenly spaced,
// MaxRate equal to MinRate, an error threshold of 5, no back-off, no retries.
func DefaultConfig(minRate int, interval time.Duration) Config {
	return Config{
		MinRate:        minRate,
		MaxRate:        minRate,
		BaseInterval:   interval,
		EvenlySpaced:   true,
		ErrorThreshold: DefaultErrorThreshold,
	}
}

// withDefaults fills the zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.MaxRate == 0 {
		c.MaxRate = c.MinRate
	}
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	return c
}

// Validate reports the first invalid field, wrapping one of the ErrInvalid*
// sentinels.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MinRate < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMinRate, c.MinRate)
	}
	if c.MaxRate < c.MinRate {
		return fmt.Errorf("%w: max %d, min %d", ErrInvalidMaxRate, c.MaxRate, c.MinRate)
	}
	if c.BaseInterval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, c.BaseInterval)
	}
	if c.ErrorThreshold < ErrorThresholdAlways {
		return fmt.Errorf("%w: got %d", ErrInvalidThreshold, c.ErrorThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRetries, c.MaxRetries)
	}
	return nil
}

// initialRate is the midpoint between MinRate and MaxRate, rounded up.
func (c Config) initialRate() int {
	spread := c.MaxRate - c.MinRate
	return c.MaxRate - spread/2
}

// MaxAttempts is the number of times a persistently failing item executes
// before it is dropped.
func (c Config) MaxAttempts() int {
	return max(c.MaxRetries, 0) + 1
}

// configJSON is the wire form of Config. Keys match the throttle section of
// the config file and the interval is a duration string.
type configJSON struct {
	MinRate        int    `json:"min_rate"`
	MaxRate        int    `json:"max_rate"`
	Interval       string `json:"interval"`
	EvenlySpaced   bool   `json:"evenly_spaced"`
	ErrorThreshold int    `json:"error_threshold"`
	BackOff        bool   `json:"back_off"`
	MaxRetries     int    `json:"max_retries"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		MinRate:        c.MinRate,
		MaxRate:        c.MaxRate,
		Interval:       c.BaseInterval.String(),
		EvenlySpaced:   c.EvenlySpaced,
		ErrorThreshold: c.ErrorThreshold,
		BackOff:        c.BackOff,
		MaxRetries:     c.MaxRetries,
	})
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var interval time.Duration
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("throttle: interval: %w", err)
		}
		interval = d
	}
	*c = Config{
		MinRate:        raw.MinRate,
		MaxRate:        raw.MaxRate,
		BaseInterval:   interval,
		EvenlySpaced:   raw.EvenlySpaced,
		ErrorThreshold: raw.ErrorThreshold,
		BackOff:        raw.BackOff,
		MaxRetries:     raw.MaxRetries,
	}
	return nil
}
