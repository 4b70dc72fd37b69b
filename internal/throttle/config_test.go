package throttle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{name: "defaults", cfg: DefaultConfig(1, time.Second)},
		{name: "max defaults to min", cfg: Config{MinRate: 3, BaseInterval: time.Second}},
		{name: "zero min", cfg: Config{MinRate: 0, BaseInterval: time.Second}, err: ErrInvalidMinRate},
		{name: "max below min", cfg: Config{MinRate: 5, MaxRate: 2, BaseInterval: time.Second}, err: ErrInvalidMaxRate},
		{name: "zero interval", cfg: Config{MinRate: 1}, err: ErrInvalidInterval},
		{name: "always threshold", cfg: Config{MinRate: 1, BaseInterval: time.Second, ErrorThreshold: ErrorThresholdAlways}},
		{name: "negative threshold", cfg: Config{MinRate: 1, BaseInterval: time.Second, ErrorThreshold: -2}, err: ErrInvalidThreshold},
		{name: "negative retries", cfg: Config{MinRate: 1, BaseInterval: time.Second, MaxRetries: -2}, err: ErrInvalidRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig(2, 500*time.Millisecond)
	require.Equal(t, 2, cfg.MaxRate)
	require.True(t, cfg.EvenlySpaced)
	require.Equal(t, DefaultErrorThreshold, cfg.ErrorThreshold)
	require.False(t, cfg.BackOff)
	require.Zero(t, cfg.MaxRetries)

	normalized := Config{MinRate: 4, BaseInterval: time.Second}.withDefaults()
	require.Equal(t, 4, normalized.MaxRate)
	require.Equal(t, DefaultErrorThreshold, normalized.ErrorThreshold)
}

func TestInitialRateIsRoundedUpMidpoint(t *testing.T) {
	cases := map[[2]int]int{
		{1, 1}:  1,
		{1, 2}:  2,
		{1, 10}: 6,
		{2, 10}: 6,
		{3, 3}:  3,
		{5, 8}:  7,
	}
	for bounds, want := range cases {
		cfg := Config{MinRate: bounds[0], MaxRate: bounds[1], BaseInterval: time.Second}
		require.Equal(t, want, cfg.initialRate(), "min=%d max=%d", bounds[0], bounds[1])
	}
}

func TestMaxAttempts(t *testing.T) {
	require.Equal(t, 1, Config{MaxRetries: 0}.MaxAttempts())
	require.Equal(t, 1, Config{MaxRetries: -2}.MaxAttempts())
	require.Equal(t, 3, Config{MaxRetries: 2}.MaxAttempts())
}

func TestConfigJSONUsesConfigFileKeys(t *testing.T) {
	cfg := Config{MinRate: 2, MaxRate: 8, BaseInterval: 1500 * time.Millisecond, EvenlySpaced: true, ErrorThreshold: 3, BackOff: true, MaxRetries: 1}

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.JSONEq(t, `{"min_rate":2,"max_rate":8,"interval":"1.5s","evenly_spaced":true,"error_threshold":3,"back_off":true,"max_retries":1}`, string(raw))

	var decoded Config
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, cfg, decoded)

	require.Error(t, json.Unmarshal([]byte(`{"interval":"soon"}`), &decoded))
}
