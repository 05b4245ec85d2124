package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/stats"
	"github.com/nextlevelbuilder/autoreply/pkg/protocol"
)

// StatusSource reports channel connection state.
type StatusSource interface {
	GetStatus() map[string]channels.ChannelStatus
}

// SessionCounter reports how many conversations are live.
type SessionCounter interface {
	Len() int
}

// Options are the optional collaborators of a Server.
type Options struct {
	Channels StatusSource
	Sessions SessionCounter
	Stats    *stats.Recorder
	Gatherer prometheus.Gatherer // nil uses the default registry
}

// Server exposes /healthz, /metrics and the /events stream.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher
	opts     Options

	clients  map[string]*Client
	mu       sync.RWMutex
	shutdown chan struct{}
	once     sync.Once

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		eventPub: eventPub,
		opts:     opts,
		clients:  make(map[string]*Client),
		shutdown: make(chan struct{}),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", s.handleEvents)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then closes the event stream and
// shuts the HTTP server down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Close tells every event client to say goodbye and disconnect.
func (s *Server) Close() {
	s.once.Do(func() { close(s.shutdown) })
}

// healthStatus is the /healthz body and the payload of the health event.
type healthStatus struct {
	Status   string                            `json:"status"`
	Channels map[string]channels.ChannelStatus `json:"channels"`
	Sessions int                               `json:"sessions"`
	Stats    *protocol.StatsPayload            `json:"stats,omitempty"`
}

func (s *Server) health() healthStatus {
	h := healthStatus{Status: "ok", Channels: map[string]channels.ChannelStatus{}}
	if s.opts.Channels != nil {
		h.Channels = s.opts.Channels.GetStatus()
	}
	if s.opts.Sessions != nil {
		h.Sessions = s.opts.Sessions.Len()
	}
	if s.opts.Stats != nil {
		c := s.opts.Stats.Snapshot()
		h.Stats = &protocol.StatsPayload{
			TotalReplies:    c.TotalReplies,
			KeywordMatches:  c.KeywordMatches,
			AIReplies:       c.AIReplies,
			FallbackReplies: c.FallbackReplies,
		}
	}
	return h
}

// handleHealth reports channel state, live sessions and reply counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.health()); err != nil {
		slog.Debug("health write failed", "error", err)
	}
}

// handleEvents upgrades to a WebSocket and streams bus events. The optional
// account query parameter limits delivery to that account's events plus
// process-wide ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("events upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString(), r.URL.Query().Get("account"), conn)
	s.registerClient(client)
	defer s.unregisterClient(client)

	client.SendEvent(*protocol.NewEvent(protocol.EventHealth, s.health()))
	client.Run(r.Context(), s.shutdown)
}

// ClientCount returns the number of connected event clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if !c.wants(event.AccountID) {
			return
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("events client connected", "id", c.id, "account", c.account)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("events client disconnected", "id", c.id)
}
