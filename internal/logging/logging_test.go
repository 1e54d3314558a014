package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"airsync/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{name: "console debug", cfg: config.LogConfig{Level: "debug", Format: "console"}, level: zapcore.DebugLevel},
		{name: "json warn", cfg: config.LogConfig{Level: "warn", Format: "json"}, level: zapcore.WarnLevel},
		{name: "empty level is info", cfg: config.LogConfig{Format: "json"}, level: zapcore.InfoLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := New(tc.cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tc.level))
			assert.False(t, logger.Core().Enabled(tc.level-1))
		})
	}

	_, err := New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
	_, err = New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
