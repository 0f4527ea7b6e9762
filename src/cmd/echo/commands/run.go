package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/echo/src/echo"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/party"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts an ECHO instance
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run an ECHO instance",
		PreRunE: loadConfig,
		RunE:    runEcho,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runEcho(cmd *cobra.Command, args []string) error {
	logger := _config.Echo.Logger()

	engine := echo.NewEcho(&_config.Echo)

	if err := engine.Init(); err != nil {
		logger.WithError(err).Error("Cannot initialize engine")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Open(ctx); err != nil {
		logger.WithError(err).Error("Cannot open engine")
		engine.Close(context.Background())
		return err
	}

	if !engine.Identity.HasIdentity() {
		if err := engine.CreateIdentity(); err != nil {
			engine.Close(context.Background())
			return err
		}
	}

	logger.WithField("identity", engine.Identity.IdentityKey()).Info("Identity")

	if _config.Join != "" {
		go join(ctx, engine, logger)
	}

	if _config.CreateParty {
		go createParty(ctx, engine, logger)
	}

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	logger.Debug("Reacting to signal")

	cancel()

	return engine.Close(context.Background())
}

func join(ctx context.Context, engine *echo.Echo, logger *logrus.Entry) {
	secret := func(ctx context.Context, attempt int) (string, error) {
		if attempt > 1 {
			return "", fmt.Errorf("wrong secret")
		}
		return _config.Secret, nil
	}

	p, err := engine.JoinParty(ctx, _config.Join, secret)
	if party.IsAdmissionPending(err) {
		logger.WithError(err).Warn("Joined party, admission pending")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Cannot join party")
		return
	}

	logger.WithField("party", p.Key()).Info("Joined party")
}

func createParty(ctx context.Context, engine *echo.Echo, logger *logrus.Entry) {
	p, err := engine.CreateParty(ctx)
	if err != nil {
		logger.WithError(err).Error("Cannot create party")
		return
	}

	greeter, err := p.CreateInvitation(ctx, invitation.Options{
		Type:    invitation.Interactive,
		Timeout: _config.Echo.InvitationTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("Cannot create invitation")
		return
	}

	token, err := greeter.Descriptor().Encode()
	if err != nil {
		logger.WithError(err).Error("Cannot encode invitation")
		return
	}

	fmt.Printf("Party: %s\n", p.Key())
	fmt.Printf("Invitation: %s\n", token)
	fmt.Printf("Secret: %s\n", greeter.Descriptor().Secret)

	if err := greeter.Wait(ctx); err != nil {
		logger.WithError(err).Warn("Invitation not used")
		return
	}

	logger.WithField("party", p.Key()).Info("Invitation used")
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Echo.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Echo.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Echo.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Echo.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Echo.BindAddr, "Listen IP:Port for feed replication")
	cmd.Flags().StringP("advertise", "a", _config.Echo.AdvertiseAddr, "Advertise IP:Port for feed replication")
	cmd.Flags().DurationP("timeout", "t", _config.Echo.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("join-timeout", "j", _config.Echo.JoinTimeout, "Join Timeout")
	cmd.Flags().Int("max-pool", _config.Echo.MaxPool, "Connection pool size max")

	// WebRTC and rendezvous
	cmd.Flags().Bool("webrtc", _config.Echo.WebRTC, "Use WebRTC transport")
	cmd.Flags().String("signal-addr", _config.Echo.SignalAddr, "IP:Port of the WAMP signaling and rendezvous server")
	cmd.Flags().String("signal-realm", _config.Echo.SignalRealm, "Realm of the signaling and rendezvous server")
	cmd.Flags().Bool("signal-skip-verify", _config.Echo.SignalSkipVerify, "Skip verification of the signaling server's certificate")
	cmd.Flags().String("ice-addr", _config.Echo.ICEAddress, "URL of the ICE server")
	cmd.Flags().String("ice-username", _config.Echo.ICEUsername, "Username of the ICE server")
	cmd.Flags().String("ice-password", _config.Echo.ICEPassword, "Password of the ICE server")

	// Service
	cmd.Flags().Bool("no-service", _config.Echo.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Echo.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Echo.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Echo.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Bool("snapshots", _config.Echo.Snapshots, "Save party snapshots")
	cmd.Flags().Int("snapshot-interval", _config.Echo.SnapshotInterval, "Number of messages between party snapshots")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.Echo.HeartbeatTimeout, "Time between gossips")
	cmd.Flags().Duration("slow-heartbeat", _config.Echo.SlowHeartbeatTimeout, "Time between gossips when there is nothing new")
	cmd.Flags().Int("sync-limit", _config.Echo.SyncLimit, "Max number of feed messages per sync")

	// Parties
	cmd.Flags().Duration("invitation-timeout", _config.Echo.InvitationTimeout, "Invitation handshake timeout")
	cmd.Flags().Bool("create-party", _config.CreateParty, "Create a party and print an invitation")
	cmd.Flags().String("join", _config.Join, "Invitation token to claim")
	cmd.Flags().String("secret", _config.Secret, "Secret of the invitation to claim")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Echo.SetDataDir(_config.Echo.DataDir)

	logFields := logrus.Fields{
		"echo.DataDir":           _config.Echo.DataDir,
		"echo.BindAddr":          _config.Echo.BindAddr,
		"echo.AdvertiseAddr":     _config.Echo.AdvertiseAddr,
		"echo.ServiceAddr":       _config.Echo.ServiceAddr,
		"echo.NoService":         _config.Echo.NoService,
		"echo.MaxPool":           _config.Echo.MaxPool,
		"echo.Store":             _config.Echo.Store,
		"echo.Snapshots":         _config.Echo.Snapshots,
		"echo.LogLevel":          _config.Echo.LogLevel,
		"echo.Moniker":           _config.Echo.Moniker,
		"echo.HeartbeatTimeout":  _config.Echo.HeartbeatTimeout,
		"echo.TCPTimeout":        _config.Echo.TCPTimeout,
		"echo.JoinTimeout":       _config.Echo.JoinTimeout,
		"echo.SyncLimit":         _config.Echo.SyncLimit,
		"echo.InvitationTimeout": _config.Echo.InvitationTimeout,
		"echo.WebRTC":            _config.Echo.WebRTC,
		"echo.SignalAddr":        _config.Echo.SignalAddr,
		"CreateParty":            _config.CreateParty,
		"Join":                   _config.Join != "",
	}

	if _config.Echo.Store {
		logFields["echo.DatabaseDir"] = _config.Echo.DatabaseDir
	}

	if _config.Echo.Snapshots {
		logFields["echo.SnapshotInterval"] = _config.Echo.SnapshotInterval
	}

	_config.Echo.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/echo.toml (.json, .yaml also work)
	viper.SetConfigName("echo")               // name of config file (without extension)
	viper.AddConfigPath(_config.Echo.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Echo.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Echo.Logger().Debugf("No config file found in: %s", _config.Echo.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
