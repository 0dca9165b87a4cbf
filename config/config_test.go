package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Daemon.URL, settings.Daemon.URL)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidewire.yaml")
	doc := "daemon:\n  url: ws://localhost:9999/events\nsession:\n  queueSize: 64\n  defaultTimeout: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9999/events", settings.Daemon.URL)
	require.Equal(t, 64, settings.Session.QueueSize)
	require.Equal(t, 5*time.Second, settings.Session.DefaultTimeout)
	require.Equal(t, Default().Session.ReferenceService, settings.Session.ReferenceService)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("TIDEWIRE_DAEMON_URL", "ws://env-host:1234/events")
	t.Setenv("TIDEWIRE_QUEUE_SIZE", "32")

	settings, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ws://env-host:1234/events", settings.Daemon.URL)
	require.Equal(t, 32, settings.Session.QueueSize)
}

func TestValidateRejectsBadQueueSize(t *testing.T) {
	settings := Default()
	settings.Session.QueueSize = 0
	require.Error(t, settings.Validate())
}
