package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/brain/internal/config"
)

func TestNew_Levels(t *testing.T) {
	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, _, err = New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_FileHookWritesEveryEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "brain.log")

	logger, closer, err := New(config.LogConfig{Level: "info", File: path})
	require.NoError(t, err)

	logger.WithField("request_id", "req-1").Info("provisioned")
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provisioned")
	assert.Contains(t, string(data), "req-1")
	assert.NotContains(t, string(data), "hidden")

	require.NoError(t, closer.Close())
}

func TestFromContext(t *testing.T) {
	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)

	entry := logrus.NewEntry(logrus.New()).WithField("request_id", "abc")
	ctx := WithEntry(context.Background(), entry)
	assert.Same(t, entry, FromContext(ctx))
}
