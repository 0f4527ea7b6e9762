package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/echo/src/net/signal"
	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

var errStreamClosed = errors.New("webrtc stream layer closed")

// WebRTCStreamLayer implements the StreamLayer interface for WebRTC
type WebRTCStreamLayer struct {
	sync.Mutex

	peerConnections []*webrtc.PeerConnection
	dataChannels    []datachannel.ReadWriteCloser

	signal     signal.Signal
	iceServers []webrtc.ICEServer

	incomingConnAggregator chan net.Conn
	closed                 bool
	closeCh                chan struct{}

	logger *logrus.Entry
}

// NewWebRTCStreamLayer instantiates a new WebRTCStreamLayer. Offers are not
// processed until the signal is listening and listen is running.
func NewWebRTCStreamLayer(signal signal.Signal, iceServers []webrtc.ICEServer, logger *logrus.Entry) *WebRTCStreamLayer {
	return &WebRTCStreamLayer{
		signal:                 signal,
		iceServers:             iceServers,
		incomingConnAggregator: make(chan net.Conn),
		closeCh:                make(chan struct{}),
		logger:                 logger,
	}
}

// listen receives SDP offers from the Signal, creates the corresponding
// PeerConnections and responds. The PeerConnections' DataChannels are piped
// into the connection aggregator.
func (w *WebRTCStreamLayer) listen() {
	consumer := w.signal.Consumer()

	for {
		select {
		case offerPromise := <-consumer:
			w.logger.WithField("from", offerPromise.From).Debug("Processing offer")

			answer, err := w.answer(offerPromise.Offer)
			if err != nil {
				w.logger.WithError(err).Error("Answering offer")
			}
			offerPromise.Respond(answer, err)
		case <-w.closeCh:
			return
		}
	}
}

func (w *WebRTCStreamLayer) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	peerConnection, err := w.newPeerConnection(w.incomingConnAggregator, false)
	if err != nil {
		return nil, err
	}

	if err := peerConnection.SetRemoteDescription(offer); err != nil {
		return nil, err
	}

	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	return &answer, nil
}

// newPeerConnection creates a PeerConnection and pipes corresponding
// DataChannel connections into the provided channel. createDataChannel is
// true on the side making the offer; the answering side binds to the
// OnDataChannel handler instead.
func (w *WebRTCStreamLayer) newPeerConnection(connCh chan net.Conn, createDataChannel bool) (*webrtc.PeerConnection, error) {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return nil, errStreamClosed
	}

	// Create a SettingEngine and enable Detach
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: w.iceServers,
	})
	if err != nil {
		return nil, err
	}

	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		w.logger.WithField("state", connectionState.String()).Debug("ICE Connection State has changed")
	})

	if createDataChannel {
		dataChannel, err := peerConnection.CreateDataChannel("feeds", nil)
		if err != nil {
			peerConnection.Close()
			return nil, err
		}
		w.pipeDataChannel(dataChannel, connCh)
	} else {
		peerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
			w.pipeDataChannel(d, connCh)
		})
	}

	w.peerConnections = append(w.peerConnections, peerConnection)

	return peerConnection, nil
}

func (w *WebRTCStreamLayer) pipeDataChannel(dataChannel *webrtc.DataChannel, connCh chan net.Conn) {
	dataChannel.OnOpen(func() {
		raw, err := dataChannel.Detach()
		if err != nil {
			w.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		w.Lock()
		w.dataChannels = append(w.dataChannels, raw)
		w.Unlock()

		select {
		case connCh <- NewWebRTCConn(raw):
		case <-w.closeCh:
			raw.Close()
		}
	})
}

// Dial implements the StreamLayer interface. It makes an offer to target
// through the signal, and returns a net.Conn wrapping the DataChannel once it
// is open.
func (w *WebRTCStreamLayer) Dial(target string, timeout time.Duration) (net.Conn, error) {
	// connCh receives the net.Conn when the DataChannel's OnOpen callback is
	// fired.
	connCh := make(chan net.Conn)

	pc, err := w.newPeerConnection(connCh, true)
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	// synchronous offer/answer RPC through the signal
	answer, err := w.signal.Offer(target, offer)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, fmt.Errorf("no answer from %s", target)
	}

	if err := pc.SetRemoteDescription(*answer); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, fmt.Errorf("dial %s: timeout", target)
	case <-w.closeCh:
		return nil, errStreamClosed
	case conn := <-connCh:
		return conn, nil
	}
}

// Accept consumes the incoming connection aggregator fed by the DataChannels
// of answered offers.
func (w *WebRTCStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-w.incomingConnAggregator:
		return conn, nil
	case <-w.closeCh:
		return nil, errStreamClosed
	}
}

// Close implements the net.Listener interface. It closes the Signal and all
// the PeerConnections.
func (w *WebRTCStreamLayer) Close() error {
	w.Lock()
	if w.closed {
		w.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	pcs, dcs := w.peerConnections, w.dataChannels
	w.peerConnections, w.dataChannels = nil, nil
	w.Unlock()

	err := w.signal.Close()

	for _, dc := range dcs {
		dc.Close()
	}
	for _, pc := range pcs {
		pc.Close()
	}

	return err
}

// Addr implements the net.Listener interface
func (w *WebRTCStreamLayer) Addr() net.Addr {
	return nil
}

// AdvertiseAddr implements the StreamLayer interface
func (w *WebRTCStreamLayer) AdvertiseAddr() string {
	return w.signal.ID()
}
