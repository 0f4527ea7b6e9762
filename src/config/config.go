package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/net"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the identity's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases
	DefaultBadgerFile = "badger_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the signaling server.
	DefaultCertFile = "cert.pem"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultHeartbeatTimeout     = 10 * time.Millisecond
	DefaultSlowHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultJoinTimeout          = 10000 * time.Millisecond
	DefaultInvitationTimeout    = 60 * time.Second
	DefaultSyncLimit            = 1000
	DefaultMaxPool              = 2
	DefaultStore                = false
	DefaultSnapshots            = true
	DefaultSnapshotInterval     = 100
	DefaultWebRTC               = false
	DefaultSignalAddr           = "127.0.0.1:2443"
	DefaultSignalRealm          = "main"
	DefaultSignalSkipVerify     = false
	DefaultICEAddress           = "stun:stun.l.google.com:19302"
	DefaultICEUsername          = ""
	DefaultICEPassword          = ""
)

// Config contains all the configuration properties of an ECHO instance.
type Config struct {
	// DataDir is the top-level directory containing ECHO configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of the log output.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this peer replicates feeds with
	// other peers. In some cases, there may be a routable address that cannot
	// be bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// peers.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the frequency of the gossip timer when the node has
	// something to gossip about.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the gossip timer when the node
	// has nothing to gossip about.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// MaxPool controls how many connections are pooled per target in the gossip
	// routines.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of gossip RPC connections. It also applies to
	// WebRTC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// JoinTimeout is the timeout of Join Requests
	JoinTimeout time.Duration `mapstructure:"join-timeout"`

	// SyncLimit defines the max number of feed messages to include in a
	// SyncResponse or EagerSyncRequest
	SyncLimit int `mapstructure:"sync-limit"`

	// InvitationTimeout bounds the whole invitation handshake, on both the
	// greeting and the claiming side.
	InvitationTimeout time.Duration `mapstructure:"invitation-timeout"`

	// Store activates persistent storage of feeds, keys, party metadata and
	// snapshots.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Snapshots enables party snapshots, which let parties reopen without
	// replaying their feeds from the start.
	Snapshots bool `mapstructure:"snapshots"`

	// SnapshotInterval is the number of dispatched messages between two
	// snapshots of a party.
	SnapshotInterval int `mapstructure:"snapshot-interval"`

	// Moniker defines the friendly name of this peer
	Moniker string `mapstructure:"moniker"`

	// WebRTC determines whether to use a WebRTC transport. WebRTC relies on a
	// signaling server whose address is specified by SignalAddr. When WebRTC
	// is enabled, BindAddr and AdvertiseAddr are ignored. The signaling server
	// doubles as the rendezvous network for invitations.
	WebRTC bool `mapstructure:"webrtc"`

	// SignalAddr is the IP:PORT of the WAMP signaling and rendezvous server.
	// The connection is over secured web-sockets, wss, and it possible to
	// include a self-signed certificated in a file called cert.pem in the
	// datadir.
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the signaling server.
	// Messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// SignalSkipVerify controls whether the signal client verifies the server's
	// certificate chain and host name. This should be used only for testing.
	SignalSkipVerify bool `mapstructure:"signal-skip-verify"`

	// ICEAddress is the URI of a server providing services for ICE, such as
	// STUN and TURN.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values. All the default
// configuration values are set, even if they cancel eachother out. For example,
// When WebRTC = false, ICE options are ignored.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SlowHeartbeatTimeout: DefaultSlowHeartbeatTimeout,
		TCPTimeout:           DefaultTCPTimeout,
		JoinTimeout:          DefaultJoinTimeout,
		InvitationTimeout:    DefaultInvitationTimeout,
		SyncLimit:            DefaultSyncLimit,
		MaxPool:              DefaultMaxPool,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
		Snapshots:            DefaultSnapshots,
		SnapshotInterval:     DefaultSnapshotInterval,
		WebRTC:               DefaultWebRTC,
		SignalAddr:           DefaultSignalAddr,
		SignalRealm:          DefaultSignalRealm,
		SignalSkipVerify:     DefaultSignalSkipVerify,
		ICEAddress:           DefaultICEAddress,
		ICEUsername:          DefaultICEUsername,
		ICEPassword:          DefaultICEPassword,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. Gossip runs fast, there is no HTTP service, and
// the invitation timeout is short.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.SlowHeartbeatTimeout = 50 * time.Millisecond
	config.InvitationTimeout = 5 * time.Second
	config.SnapshotInterval = 5
	config.NoService = true
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level ECHO directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the identity's private
// key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// CertFile returns the full path of the file containing the signal-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// StoreDir returns the directory of the named badger database.
func (c *Config) StoreDir(name string) string {
	return filepath.Join(c.DatabaseDir, name)
}

// ICEServers returns a list of ICE servers used by the WebRTCStreamLayer to
// connect to peers.
func (c *Config) ICEServers() []webrtc.ICEServer {
	return net.ICEServers(c.ICEAddress, c.ICEUsername, c.ICEPassword)
}

// Logger returns a formatted logrus Entry, with prefix set to "echo". When
// LogFile is set, every entry is also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, l := range logrus.AllLevels {
				pathMap[l] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "echo")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level ECHO config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Echo")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Echo")
		} else {
			return filepath.Join(home, ".echo")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
