package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/rumor/src/broadcast"
	cm "github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/node"
	"github.com/mosaicnetworks/rumor/src/telemetry"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a node over HTTP, for humans and dashboards.
// It is read-only: the protocol itself only flows through the transport.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	server      *broadcast.Server
	logger      *logrus.Entry
	mux         *http.ServeMux
}

// NewService ...
func NewService(bindAddress string, n *node.Node, server *broadcast.Server, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		server:      server,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several nodes can serve from one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering rumor API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/values", s.makeHandler(s.GetValues))
	s.mux.HandleFunc("/value/", s.makeHandler(s.GetValue))
	s.mux.Handle("/metrics", telemetry.MetricsHandler())
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

// Handler returns the http.Handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve listens on the bind address and serves the API until ctx is
// cancelled.
func (s *Service) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.bindAddress)
	if err != nil {
		return err
	}

	s.logger.WithField("bind_address", ln.Addr().String()).Debug("Serving rumor API")

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Shutting down rumor API")
		}
		return nil
	}
}

// GetStats returns the stats of the node and of the broadcast server in one
// object.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()
	for k, v := range s.server.GetStats() {
		stats[k] = v
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetValues returns the sorted set of values.
func (s *Service) GetValues(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.server.Values())
}

// GetValue returns where and when a value was first received.
func (s *Service) GetValue(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/value/"):]

	value, err := strconv.Atoi(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing value parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	store := s.server.Store()
	if store == nil {
		http.Error(w, "node not initialized", http.StatusServiceUnavailable)
		return
	}

	record, err := store.Get(value)
	if err != nil {
		status := http.StatusInternalServerError
		if cm.IsStore(err, cm.KeyNotFound) {
			status = http.StatusNotFound
		}

		http.Error(w, err.Error(), status)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(record)
}
