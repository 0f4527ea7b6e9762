package net

import (
	"time"

	"github.com/mosaicnetworks/echo/src/net/signal"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// NewWebRTCTransport returns a NetworkTransport that is built on top of a
// WebRTC StreamLayer. The signal is a mechanism for peers to exchange
// connection information prior to establishing a direct p2p link.
func NewWebRTCTransport(
	signal signal.Signal,
	iceServers []webrtc.ICEServer,
	maxPool int,
	timeout time.Duration,
	joinTimeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	stream := NewWebRTCStreamLayer(signal, iceServers, logger)

	if err := stream.signal.Listen(); err != nil {
		return nil, err
	}

	go stream.listen()

	return NewNetworkTransport(stream, maxPool, timeout, joinTimeout, logger), nil
}

// ICEServers builds the ICE configuration from a STUN/TURN address and its
// credentials. An empty address falls back to a public STUN server.
func ICEServers(address, username, password string) []webrtc.ICEServer {
	if address == "" {
		return []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	server := webrtc.ICEServer{
		URLs: []string{address},
	}
	if username != "" {
		server.Username = username
		server.Credential = password
		server.CredentialType = webrtc.ICECredentialTypePassword
	}

	return []webrtc.ICEServer{server}
}
