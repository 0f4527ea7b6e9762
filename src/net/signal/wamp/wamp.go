// Package wamp implements signaling and rendezvous over RPC on WebSockets.
//
// This package contains a WAMP server that relays RPC requests between
// connected clients, a client which implements the signal.Signal interface
// for WebRTC connections, and Connect, which is shared with the swarm network
// used by invitations.
//
// The server runs over TLS when it is given a certificate and key, and over
// plain WebSockets otherwise. When a client is given a cert.pem file, it
// trusts that certificate, so the server's certificate can be self-signed.
// There is also an option to skip certificate verification, but this should
// only be used for testing.
package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/sirupsen/logrus"
)

const (
	// ErrProcessingOffer indicates that the client who received the offer ran
	// into an error while processing it.
	ErrProcessingOffer = "io.echo.processing_offer"
)

// ConnectConfig describes how to reach a WAMP router.
type ConnectConfig struct {
	// URL of the router, with a ws:// or wss:// scheme. A bare host:port
	// means wss://.
	URL                string
	Realm              string
	CAFile             string
	InsecureSkipVerify bool
	ResponseTimeout    time.Duration
}

// Connect opens a client connection to a WAMP router.
func Connect(ctx context.Context, conf ConnectConfig, logger *logrus.Entry) (*client.Client, error) {
	url := conf.URL
	if !strings.Contains(url, "://") {
		url = "wss://" + url
	}

	cfg := client.Config{
		Realm:           conf.Realm,
		ResponseTimeout: conf.ResponseTimeout,
		Logger:          logger,
	}

	if strings.HasPrefix(url, "wss://") {
		tlscfg, err := tlsConfig(conf.CAFile, conf.InsecureSkipVerify, logger)
		if err != nil {
			return nil, err
		}
		cfg.TlsCfg = tlscfg
	}

	return client.ConnectNet(ctx, url, cfg)
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by signal server.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); caFile == "" || os.IsNotExist(err) {
		logger.Debugf("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	// Load PEM-encoded certificate to trust.
	certPEM, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	// Create CertPool containing the certificate to trust.
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}

	// Trust the certificate by putting it into the pool of root CAs.
	tlscfg.RootCAs = roots

	// Decode and parse the server cert to extract the subject info.
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

	// Set ServerName in TLS config to CN from trusted cert so that
	// certificate will validate if CN does not match DNS name.
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}
