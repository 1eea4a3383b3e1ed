// Package http exposes the read-only operational surface of a running
// session: health and status JSON, Prometheus metrics, and a websocket
// event feed. Control (start, stop, pause) stays with the owning process.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
	"github.com/tradepilot/tradepilot/internal/supervisor"
	"github.com/tradepilot/tradepilot/internal/telemetry"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig returns local-only defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only HTTP surface over one supervisor session
type Server struct {
	cfg     ServerConfig
	router  *mux.Router
	server  *http.Server
	sup     *supervisor.Supervisor
	sched   *phase.Schedule
	class   *regime.Classifier
	hub     *eventHub
	log     zerolog.Logger
	started time.Time
}

// NewServer wires routes over the given session. It subscribes to the
// supervisor's events for the websocket feed.
func NewServer(cfg ServerConfig, sup *supervisor.Supervisor, sched *phase.Schedule, class *regime.Classifier, metrics *telemetry.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		sup:     sup,
		sched:   sched,
		class:   class,
		hub:     newEventHub(log),
		log:     log.With().Str("component", "http").Logger(),
		started: time.Now(),
	}

	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.hub.handleUpgrade).Methods(http.MethodGet)

	sup.Subscribe(s.hub.Broadcast)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	go s.hub.run()
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status            string    `json:"status"`
	State             string    `json:"state"`
	DataConnected     bool      `json:"data_connected"`
	LastDecisionAt    time.Time `json:"last_decision_at"`
	LastSafetyCheckAt time.Time `json:"last_safety_check_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, _ := s.sup.State()
	stats := s.sup.Stats()

	resp := healthResponse{
		Status:            "ok",
		State:             string(state),
		DataConnected:     s.sup.Healthy(),
		LastDecisionAt:    stats.LastDecisionAt,
		LastSafetyCheckAt: stats.LastSafetyCheckAt,
		UptimeSeconds:     time.Since(s.started).Seconds(),
	}
	code := http.StatusOK
	if state == supervisor.StateError || state == supervisor.StateEmergencyStop {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	SessionID    string                 `json:"session_id"`
	State        string                 `json:"state"`
	StateReason  string                 `json:"state_reason"`
	Mode         string                 `json:"mode"`
	CurrentPhase phaseView              `json:"current_phase"`
	NextChange   *phaseChangeView       `json:"next_change,omitempty"`
	Regime       *regime.Classification `json:"regime,omitempty"`
	Statistics   supervisor.Statistics  `json:"statistics"`
}

type phaseView struct {
	Name      string `json:"name"`
	RiskLevel string `json:"risk_level"`
	Closed    bool   `json:"closed"`
}

type phaseChangeView struct {
	Next     string    `json:"next"`
	StartsAt time.Time `json:"starts_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, reason := s.sup.State()
	now := time.Now().In(s.sched.Location())
	ph := s.sched.Current(now)

	resp := statusResponse{
		SessionID:   s.sup.SessionID(),
		State:       string(state),
		StateReason: reason,
		Mode:        string(s.sup.Mode()),
		CurrentPhase: phaseView{
			Name:      ph.Name,
			RiskLevel: ph.RiskLevel,
			Closed:    ph.IsClosed(),
		},
		Statistics: s.sup.Stats(),
	}
	change := s.sched.NextChange(now)
	resp.NextChange = &phaseChangeView{Next: change.Next.Name, StartsAt: change.StartsAt}
	if cls, ok := s.class.Latest(); ok {
		resp.Regime = &cls
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
