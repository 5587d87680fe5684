package app

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calentian-mail-pipeline/internal/config"
)

func TestModeComponents(t *testing.T) {
	tests := []struct {
		mode    Mode
		name    string
		polls   bool
		assigns bool
	}{
		{ModeAll, "all", true, true},
		{ModePoller, "poller", true, false},
		{ModeAssigner, "assigner", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.mode.String())
			assert.Equal(t, tt.polls, tt.mode.polls())
			assert.Equal(t, tt.assigns, tt.mode.assigns())
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	prevLevel := logrus.GetLevel()
	prevFormatter := logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	require.NoError(t, ConfigureLogging(config.LogConfig{Level: "debug", Format: "text"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, ConfigureLogging(config.LogConfig{Level: "warn", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "loud"}))
}
