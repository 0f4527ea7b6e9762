package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/node"
	"github.com/mosaicnetworks/echo/src/party"
	"github.com/mosaicnetworks/echo/src/peers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of an ECHO instance over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	parties     *party.Manager
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, parties *party.Manager, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		parties:     parties,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers on the service's own ServeMux,
// so that several instances can live in the same process. Applications that
// serve their own API can mount Handler() instead of calling Serve.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering ECHO API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/parties", s.makeHandler(s.GetParties))
	s.mux.HandleFunc("/parties/", s.makeHandler(s.GetItems))
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the API handlers.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call which returns when the
// service is shut down.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving ECHO API")

	s.Lock()
	s.server = &http.Server{
		Addr:    s.bindAddress,
		Handler: s.mux,
	}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(err)
	}
}

// Shutdown stops a running server.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Lock()
	server := s.server
	s.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	open := 0
	all := s.parties.Parties()
	for _, p := range all {
		if p.State() == party.Open {
			open++
		}
	}
	stats["parties"] = strconv.Itoa(len(all))
	stats["open_parties"] = strconv.Itoa(open)

	writeJSON(w, stats)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeers(w, s.node.Peers())
}

// PartyInfo is the description of a party returned by /parties.
type PartyInfo struct {
	PartyKey string    `json:"partyKey"`
	State    string    `json:"state"`
	Members  int       `json:"members"`
	Feeds    int       `json:"feeds"`
	Items    int       `json:"items"`
	Created  time.Time `json:"created"`
}

// GetParties ...
func (s *Service) GetParties(w http.ResponseWriter, r *http.Request) {
	res := []PartyInfo{}

	for _, p := range s.parties.Parties() {
		info := PartyInfo{
			PartyKey: p.Key(),
			State:    p.State().String(),
			Members:  len(p.Members()),
			Feeds:    len(p.Feeds()),
			Created:  p.Metadata().Created,
		}
		if items := p.Items(); items != nil {
			info.Items = items.Len()
		}
		res = append(res, info)
	}

	writeJSON(w, res)
}

// ItemInfo is the description of an item returned by /parties/{key}/items.
type ItemInfo struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	ModelKind string          `json:"model"`
	Parent    string          `json:"parent,omitempty"`
	State     json.RawMessage `json:"state"`
}

// GetItems serves /parties/{key}/items. The type and parent query parameters
// filter the result.
func (s *Service) GetItems(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path[len("/parties/"):], "/"), "/")
	if len(parts) != 2 || parts[1] != "items" {
		http.NotFound(w, r)
		return
	}

	p, err := s.parties.GetParty(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	items := p.Items()
	if items == nil || p.State() != party.Open {
		http.Error(w, "party is not open", http.StatusConflict)
		return
	}

	filter := model.Filter{
		Type:   r.URL.Query().Get("type"),
		Parent: r.URL.Query().Get("parent"),
	}

	res := []ItemInfo{}
	for _, item := range items.Items(filter).Value() {
		state, err := item.State.Marshal()
		if err != nil {
			s.logger.WithError(err).Errorf("Marshalling item %s", item.ID)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		res = append(res, ItemInfo{
			ID:        item.ID,
			Type:      item.Type,
			ModelKind: item.ModelKind,
			Parent:    item.Parent,
			State:     state,
		})
	}

	writeJSON(w, res)
}

func returnPeers(w http.ResponseWriter, peers []*peers.Peer) {
	writeJSON(w, peers)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(v)
}
