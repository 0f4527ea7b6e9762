package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/echo/src/config"
	"github.com/mosaicnetworks/echo/src/net/signal/wamp"
	"github.com/spf13/cobra"
)

var (
	signalAddr  = config.DefaultSignalAddr
	signalRealm = config.DefaultSignalRealm
	certFile    string
	keyFile     string
)

// NewSignalCmd returns the command that runs the WAMP server used for WebRTC
// signaling and invitation rendezvous.
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run a signaling and rendezvous server",
		RunE:  runServer,
	}

	cmd.Flags().StringVar(&signalAddr, "listen", signalAddr, "Listen IP:Port")
	cmd.Flags().StringVar(&signalRealm, "realm", signalRealm, "Administrative routing domain")
	cmd.Flags().StringVar(&certFile, "cert-file", "", "TLS certificate; plain WebSockets when empty")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "TLS key")

	return cmd
}

// runServer starts the WAMP server and waits for a SIGINT or SIGTERM
func runServer(cmd *cobra.Command, args []string) error {
	logger := _config.Echo.Logger().WithField("prefix", "signal")

	server, err := wamp.NewServer(signalAddr, signalRealm, certFile, keyFile, logger)
	if err != nil {
		return err
	}

	if err := server.Listen(); err != nil {
		return err
	}

	go server.Run()

	logger.WithField("url", server.URL()).Info("Serving")

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
