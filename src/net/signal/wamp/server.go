package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server implements a WAMP server through which connected clients can make RPC
// requests to one-another. It relays WebRTC signaling and invitation
// handshakes.
type Server struct {
	sync.Mutex
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	listener   net.Listener
	tls        bool
	logger     *logrus.Entry
}

// NewServer instantiates a new Server which can be run at a specified address.
// If certFile is empty, the server runs on plain WebSockets.
func NewServer(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	// Create router instance.
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler: wss,
		Addr:    address,
	}

	if certFile != "" {
		// prepare tls config with certFile and keyFile
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	res := &Server{
		address:    address,
		realm:      realm,
		router:     nxr,
		httpServer: httpServer,
		tls:        certFile != "",
		logger:     logger,
	}

	return res, nil
}

// Listen binds the server's address. It is called by Run, and can be called
// earlier to learn the address when the port is chosen by the system.
func (s *Server) Listen() error {
	s.Lock()
	defer s.Unlock()

	if s.listener != nil {
		return nil
	}

	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.listener = l
	s.address = l.Addr().String()

	return nil
}

// Run starts the WAMP websocket server
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}

	var err error
	if s.tls {
		// The certificates have already been loaded in the TLSConfig of the
		// server in the constructor
		err = s.httpServer.ServeTLS(s.listener, "", "")
	} else {
		err = s.httpServer.Serve(s.listener)
	}

	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server
func (s *Server) Addr() string {
	s.Lock()
	defer s.Unlock()
	return s.address
}

// URL returns the WebSocket URL of the server.
func (s *Server) URL() string {
	scheme := "ws"
	if s.tls {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Addr())
}

// Realm ...
func (s *Server) Realm() string {
	return s.realm
}

// Router returns the server's router, to which in-process clients can connect
// directly.
func (s *Server) Router() router.Router {
	return s.router
}
