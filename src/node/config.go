package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/common"
	"github.com/sirupsen/logrus"
)

// Config contains the gossip parameters of a replication node.
type Config struct {
	// HeartbeatTimeout is the frequency of the gossip timer when the node has
	// recently written or received feed messages.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the gossip timer when the node
	// has nothing new to gossip about.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// JoinTimeout is the timeout of Join Requests.
	JoinTimeout time.Duration `mapstructure:"join-timeout"`

	// SyncLimit defines the max number of feed messages to include in a
	// SyncResponse or EagerSyncRequest.
	SyncLimit int `mapstructure:"sync-limit"`

	// Moniker is the friendly name this node introduces itself with.
	Moniker string `mapstructure:"moniker"`

	Logger *logrus.Entry
}

// NewConfig ...
func NewConfig(heartbeat time.Duration,
	slowHeartbeat time.Duration,
	joinTimeout time.Duration,
	syncLimit int,
	moniker string,
	logger *logrus.Entry) *Config {

	return &Config{
		HeartbeatTimeout:     heartbeat,
		SlowHeartbeatTimeout: slowHeartbeat,
		JoinTimeout:          joinTimeout,
		SyncLimit:            syncLimit,
		Moniker:              moniker,
		Logger:               logger,
	}
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout:     10 * time.Millisecond,
		SlowHeartbeatTimeout: 1000 * time.Millisecond,
		JoinTimeout:          10000 * time.Millisecond,
		SyncLimit:            1000,
		Logger:               logger.WithField("prefix", "node"),
	}
}

// TestConfig returns a DefaultConfig with a fast slow-heartbeat and a logger
// writing to t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.SlowHeartbeatTimeout = 50 * time.Millisecond
	config.JoinTimeout = time.Second
	config.Logger = common.NewTestEntry(t, "node")
	return config
}
