package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NOTIFICATIONS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.InDelta(t, 1.0, cfg.LLMRateLimitRPS, 0.001)
	assert.InDelta(t, 8.0, cfg.MinNotificationScore, 0.001)
	assert.Equal(t, 10, cfg.MaxDailyNotifications)
}

func TestLoadFractionalRateLimit(t *testing.T) {
	t.Setenv("NOTIFICATIONS_ENABLED", "false")
	t.Setenv("LLM_RATE_LIMIT_RPS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.5, cfg.LLMRateLimitRPS, 0.001)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "unknown backend",
			env:     map[string]string{"STORAGE_BACKEND": "mysql", "NOTIFICATIONS_ENABLED": "false"},
			wantErr: ErrUnknownBackend,
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"STORAGE_BACKEND": "postgres", "NOTIFICATIONS_ENABLED": "false"},
			wantErr: ErrMissingDSN,
		},
		{
			name:    "threshold out of range",
			env:     map[string]string{"MIN_NOTIFICATION_SCORE": "11", "NOTIFICATIONS_ENABLED": "false"},
			wantErr: ErrThresholdRange,
		},
		{
			name:    "notifications without channel",
			env:     map[string]string{"NOTIFICATIONS_ENABLED": "true"},
			wantErr: ErrNoNotifier,
		},
		{
			name:    "schedule out of day",
			env:     map[string]string{"DAILY_FETCH_HOUR": "24", "NOTIFICATIONS_ENABLED": "false"},
			wantErr: ErrScheduleOutOfDay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
