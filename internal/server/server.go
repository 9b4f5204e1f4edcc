// Package server exposes the simulation over HTTP: REST commands, a
// WebSocket stream of state frames and the Prometheus endpoint.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netfish/internal/config"
	"netfish/internal/database"
	"netfish/internal/harvest"
	"netfish/internal/metrics"
	"netfish/internal/model"
	"netfish/internal/session"
	"netfish/internal/simulator"
)

// Deps are the components the server fronts.
type Deps struct {
	Engine   *simulator.Engine
	Session  *session.Session
	Harvest  *harvest.Service
	Repo     database.Repository
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server wires HTTP routes to the engine and pushes engine events to the hub.
type Server struct {
	logger   *slog.Logger
	engine   *simulator.Engine
	session  *session.Session
	harvest  *harvest.Service
	repo     database.Repository
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	hub      *Hub
	alerts   *harvest.AlertWatcher
	upgrader websocket.Upgrader
	router   *mux.Router
}

// New builds the server and subscribes it to the engine.
func New(logger *slog.Logger, cfg config.Config, deps Deps) *Server {
	var gauge prometheus.Gauge
	if deps.Metrics != nil {
		gauge = deps.Metrics.WSClients
	}
	s := &Server{
		logger:   logger,
		engine:   deps.Engine,
		session:  deps.Session,
		harvest:  deps.Harvest,
		repo:     deps.Repo,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		hub:      NewHub(logger, gauge),
		upgrader: newUpgrader(cfg.Server.AllowedOrigins),
	}
	if s.repo == nil {
		s.repo = database.Discard{}
	}
	s.alerts = harvest.NewAlertWatcher(cfg.Harvest.AlertStep, func(v float64) {
		s.hub.Broadcast(Message{Type: MsgHarvestAlert, Data: HarvestAlert{Harvestable: v}})
	})
	s.subscribe()
	s.router = s.routes()
	return s
}

// Hub returns the WebSocket hub; its Run loop must be started by the caller.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) subscribe() {
	s.engine.Subscribe(s.hub.BroadcastState)
	s.engine.Subscribe(s.alerts.Observe)
	if s.metrics != nil {
		s.engine.Subscribe(func(st model.SimulationState) {
			s.metrics.Observe(st)
			s.metrics.ObserveDeposit(s.engine.DepositAmount())
		})
		s.engine.OnRebalance(s.metrics.ObserveRebalance)
	}

	s.engine.OnRebalance(func(ev model.RebalanceEvent) {
		s.hub.Broadcast(Message{Type: MsgRebalance, Data: ev})
	})
	s.engine.SetOnOutOfRangeCallback(func() {
		st := s.engine.State()
		s.hub.Broadcast(Message{Type: MsgOutOfRange, Data: OutOfRange{
			TrackedValue: st.TrackedValue,
			Range:        st.Range(),
		}})
	})

	if s.harvest != nil {
		s.harvest.OnHarvest(func(h model.HarvestRecord) {
			s.alerts.Reset()
			if s.metrics != nil {
				s.metrics.ObserveHarvest(h)
			}
		})
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recovery)
	r.Use(s.logging)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	api.HandleFunc("/challenges", s.getChallenges).Methods(http.MethodGet)

	api.HandleFunc("/config/deposit", s.setDeposit).Methods(http.MethodPost)
	api.HandleFunc("/config/time-unit", s.setTimeUnit).Methods(http.MethodPost)
	api.HandleFunc("/config/auto-rebalance", s.setAutoRebalance).Methods(http.MethodPost)
	api.HandleFunc("/config/price-range", s.setPriceRange).Methods(http.MethodPost)
	api.HandleFunc("/config/random-mode", s.command(s.engine.ResetToRandomMode)).Methods(http.MethodPost)

	api.HandleFunc("/simulation/start", s.command(s.engine.Start)).Methods(http.MethodPost)
	api.HandleFunc("/simulation/stop", s.command(s.engine.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/simulation/reset-profit", s.command(s.engine.ResetProfit)).Methods(http.MethodPost)

	api.HandleFunc("/demo/start", s.startDemo).Methods(http.MethodPost)
	api.HandleFunc("/demo/stop", s.command(s.stopDemo)).Methods(http.MethodPost)
	api.HandleFunc("/demo/pause", s.pauseDemo).Methods(http.MethodPost)
	api.HandleFunc("/demo/resume", s.command(s.engine.ResumeDemo)).Methods(http.MethodPost)

	api.HandleFunc("/manual/start", s.command(s.engine.StartManualControl)).Methods(http.MethodPost)
	api.HandleFunc("/manual/stop", s.command(s.engine.StopManualControl)).Methods(http.MethodPost)
	api.HandleFunc("/price/increment", s.command(s.engine.IncrementPrice)).Methods(http.MethodPost)
	api.HandleFunc("/price/decrement", s.command(s.engine.DecrementPrice)).Methods(http.MethodPost)

	api.HandleFunc("/rebalance", s.command(s.engine.Rebalance)).Methods(http.MethodPost)
	api.HandleFunc("/rebalance/animation", s.consumeAnimation).Methods(http.MethodPost)
	api.HandleFunc("/rebalancing/pause", s.command(s.engine.PauseForRebalancing)).Methods(http.MethodPost)
	api.HandleFunc("/rebalancing/resume", s.command(s.engine.ResumeAfterRebalancing)).Methods(http.MethodPost)
	api.HandleFunc("/harvest", s.doHarvest).Methods(http.MethodPost)

	api.HandleFunc("/history/harvests", s.getHarvests).Methods(http.MethodGet)
	api.HandleFunc("/history/rebalances", s.getRebalances).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.serveWS)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) stopDemo() {
	if s.session != nil {
		s.session.StopChallenge()
		return
	}
	s.engine.StopDemo()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// The upgrader needs the raw http.Hijacker.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Handler panicked", "path", r.URL.Path, "panic", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
