package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"enigma/internal/model"
	"enigma/internal/protocol/x3dh"
	"enigma/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBundleBody = 4 << 10

type (
	// Directory is the published-bundle store behind /keys.
	Directory interface {
		GetByName(ctx context.Context, name string) (*model.User, error)
		Available(ctx context.Context, name string) (bool, error)
		PutBundle(ctx context.Context, name string, bundle []byte) error
	}

	// Queue holds relayed messages for users that are not connected.
	Queue interface {
		Push(ctx context.Context, to string, data []byte) error
		Drain(ctx context.Context, to string) ([][]byte, error)
	}

	Options struct {
		RateLimit float64
		Burst     int
	}

	HttpServer struct {
		mu     sync.RWMutex
		mapper map[string]*client

		directory Directory
		queue     Queue
		opts      Options

		registry  *prometheus.Registry
		relayed   *prometheus.CounterVec
		connected prometheus.Gauge
	}

	// client is one connected user. gorilla/websocket allows a single
	// concurrent writer, so writes go through writeMu.
	client struct {
		conn    *websocket.Conn
		writeMu sync.Mutex
	}
)

func NewHttpServer(directory Directory, queue Queue, opts Options) *HttpServer {
	s := &HttpServer{
		mapper:    make(map[string]*client),
		directory: directory,
		queue:     queue,
		opts:      opts,
		registry:  prometheus.NewRegistry(),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enigma",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relayed messages by outcome.",
		}, []string{"outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "enigma",
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Currently connected websocket clients.",
		}),
	}
	s.registry.MustRegister(s.relayed, s.connected)
	return s
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/keys/{name}", s.GetBundleOfUser()).Methods(http.MethodGet)
	r.HandleFunc("/keys/{name}", s.PublishBundle()).Methods(http.MethodPut)
	r.HandleFunc("/users/{name}/available", s.NameAvailable()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.closeAll()
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		if s.online(userID) {
			http.Error(w, "duplicated userID", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &client{conn: conn}
		if !s.register(userID, c) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "duplicated userID"))
			conn.Close()
			return
		}
		log.Info("client connected", zap.String("user", userID))

		if err := s.ForwardUnsentMessages(r.Context(), userID, c); err != nil {
			log.Error("forward msg failed", zap.String("user", userID), zap.Error(err))
		}
		go s.processWSMessage(userID, c)
	}
}

func (s *HttpServer) online(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mapper[userID]
	return ok
}

func (s *HttpServer) register(userID string, c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mapper[userID]; ok {
		return false
	}
	s.mapper[userID] = c
	s.connected.Inc()
	return true
}

func (s *HttpServer) unregister(userID string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapper[userID] == c {
		delete(s.mapper, userID)
		s.connected.Dec()
	}
}

func (s *HttpServer) lookup(userID string) (*client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.mapper[userID]
	return c, ok
}

func (s *HttpServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, c := range s.mapper {
		c.conn.Close()
		delete(s.mapper, userID)
		s.connected.Dec()
	}
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *HttpServer) processWSMessage(userID string, c *client) {
	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Burst)
	defer func() {
		s.unregister(userID, c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.String("user", userID), zap.Error(err))
			return
		}

		if !limiter.Allow() {
			s.relayed.WithLabelValues("throttled").Inc()
			log.Warn("relay rate exceeded, message dropped", zap.String("user", userID))
			continue
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			s.relayed.WithLabelValues("rejected").Inc()
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}
		if message.From != userID || message.To == "" || message.Header == nil || len(message.Ciphertext) == 0 {
			s.relayed.WithLabelValues("rejected").Inc()
			log.Warn("malformed or spoofed message dropped",
				zap.String("user", userID), zap.String("from", message.From), zap.String("to", message.To))
			continue
		}

		s.relay(context.Background(), &message, data)
	}
}

func (s *HttpServer) relay(ctx context.Context, message *model.Message, data []byte) {
	if to, ok := s.lookup(message.To); ok {
		if err := to.write(data); err == nil {
			s.relayed.WithLabelValues("delivered").Inc()
			return
		}
		log.Debug("live delivery failed, queueing", zap.String("to", message.To))
	}

	if err := s.queue.Push(ctx, message.To, data); err != nil {
		s.relayed.WithLabelValues("dropped").Inc()
		log.Error("queue message failed", zap.String("to", message.To), zap.Error(err))
		return
	}
	s.relayed.WithLabelValues("queued").Inc()
}

func (s *HttpServer) ForwardUnsentMessages(ctx context.Context, userID string, c *client) error {
	messages, err := s.queue.Drain(ctx, userID)
	if err != nil {
		return err
	}

	for i, data := range messages {
		if err := c.write(data); err != nil {
			// put back what was not written, in order
			for _, rest := range messages[i:] {
				if perr := s.queue.Push(ctx, userID, rest); perr != nil {
					return fmt.Errorf("requeue after %w: %w", err, perr)
				}
			}
			return err
		}
		s.relayed.WithLabelValues("delivered").Inc()
	}
	return nil
}

func (s *HttpServer) GetBundleOfUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		name := mux.Vars(r)["name"]
		log.Info("GetBundleOfUser", zap.String("name", name))

		user, err := s.directory.GetByName(ctx, name)
		if err != nil {
			log.Error("Get bundle failed", zap.Error(err))
			http.Error(w, "Get bundle failed", http.StatusInternalServerError)
			return
		}

		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		var bundle model.IdentityBundle
		if err := bundle.UnmarshalBinary(user.Bundle); err != nil {
			log.Error("stored bundle is corrupt", zap.String("name", name), zap.Error(err))
			http.Error(w, "Get bundle failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, &bundle)
	}
}

// PublishBundle stores a bundle after checking its prekey signature. Once a
// name is bound to an identity key only that identity may republish.
func (s *HttpServer) PublishBundle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := mux.Vars(r)["name"]

		var bundle model.IdentityBundle
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBundleBody)).Decode(&bundle); err != nil {
			http.Error(w, "malformed bundle", http.StatusBadRequest)
			return
		}
		if err := x3dh.VerifyBundle(&bundle); err != nil {
			log.Warn("rejected bundle", zap.String("name", name), zap.Error(err))
			http.Error(w, "invalid bundle signature", http.StatusBadRequest)
			return
		}

		existing, err := s.directory.GetByName(ctx, name)
		if err != nil {
			log.Error("Publish bundle failed", zap.Error(err))
			http.Error(w, "Publish bundle failed", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			var old model.IdentityBundle
			if err := old.UnmarshalBinary(existing.Bundle); err == nil && old.IKPub != bundle.IKPub {
				http.Error(w, "name is taken", http.StatusConflict)
				return
			}
		}

		data, _ := bundle.MarshalBinary()
		if err := s.directory.PutBundle(ctx, name, data); err != nil {
			log.Error("Publish bundle failed", zap.Error(err))
			http.Error(w, "Publish bundle failed", http.StatusInternalServerError)
			return
		}
		log.Info("bundle published", zap.String("name", name), zap.String("fingerprint", bundle.Fingerprint()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) NameAvailable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		ok, err := s.directory.Available(r.Context(), name)
		if err != nil {
			log.Error("availability check failed", zap.Error(err))
			http.Error(w, "availability check failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
