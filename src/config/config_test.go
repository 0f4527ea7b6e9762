package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()

	conf.SetDataDir("/tmp/echo-a")
	assert.Equal(t, filepath.Join("/tmp/echo-a", DefaultBadgerFile), conf.DatabaseDir)
	assert.Equal(t, filepath.Join("/tmp/echo-a", DefaultKeyfile), conf.Keyfile())
	assert.Equal(t, filepath.Join("/tmp/echo-a", DefaultBadgerFile, "feeds"), conf.StoreDir("feeds"))

	// an explicit database dir is kept
	conf = NewDefaultConfig()
	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/echo-b")
	assert.Equal(t, "/var/db", conf.DatabaseDir)
}

func TestDefaults(t *testing.T) {
	conf := NewDefaultConfig()

	assert.True(t, conf.Snapshots)
	assert.Equal(t, 100, conf.SnapshotInterval)
	assert.False(t, conf.Store)
	assert.Len(t, conf.ICEServers(), 1)
	assert.Equal(t, logrus.DebugLevel, LogLevel(conf.LogLevel))
	assert.Equal(t, logrus.WarnLevel, LogLevel("warn"))
	assert.Equal(t, logrus.DebugLevel, LogLevel("nonsense"))
}

func TestLogFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "echo")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "echo.log")

	logger := conf.Logger()
	logger.Logger.Out = ioutil.Discard
	logger.Info("written to file")
	logger.Debug("below level")

	data, err := ioutil.ReadFile(conf.LogFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
	assert.False(t, strings.Contains(string(data), "below level"))
}
