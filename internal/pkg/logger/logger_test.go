package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestDeploymentHelpers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := New(zap.New(core))

	l.SSHConnectionAttempt("key", "root@10.0.0.5:22")
	l.DeploymentStep("pull-images", "10.0.0.5")
	l.DeploymentSuccess("pull-images")
	l.DeploymentError("restart-proxy", errors.New("exit status 1"))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "attempting SSH connection", entries[0].Message)
	assert.Equal(t, "key", entries[0].ContextMap()["method"])
	assert.Equal(t, "pull-images", entries[1].ContextMap()["step"])
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
	assert.Equal(t, "exit status 1", entries[3].ContextMap()["error"])
}
