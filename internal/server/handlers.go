package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"netfish/internal/harvest"
	"netfish/internal/model"
	"netfish/internal/session"
	"netfish/internal/simulator"
)

var errBadRequest = errors.New("bad request")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// StateResponse is the full read model served at /api/state.
type StateResponse struct {
	State            model.SimulationState `json:"state"`
	Range            model.NetRange        `json:"range"`
	InRange          bool                  `json:"in_range"`
	Running          bool                  `json:"running"`
	DemoActive       bool                  `json:"demo_active"`
	DemoPaused       bool                  `json:"demo_paused"`
	DemoStatus       string                `json:"demo_status"`
	Deposit          float64               `json:"deposit"`
	APR              float64               `json:"apr"`
	TimeUnit         model.TimeUnit        `json:"time_unit"`
	ProfitPerSecond  float64               `json:"profit_per_second"`
	ProfitTracking   bool                  `json:"profit_tracking"`
	AutoRebalance    bool                  `json:"auto_rebalance"`
	PriceRange       *model.PriceRange     `json:"price_range,omitempty"`
	SimulatedSeconds float64               `json:"simulated_seconds"`
	Challenge        *session.Challenge    `json:"challenge,omitempty"`
	Progress         int                   `json:"progress"`
	Totals           *harvest.Totals       `json:"totals,omitempty"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	e := s.engine
	resp := StateResponse{
		State:            e.State(),
		Range:            e.GetRange(),
		InRange:          e.IsInRange(),
		Running:          e.IsRunning(),
		DemoActive:       e.IsDemoActive(),
		DemoPaused:       e.IsDemoPaused(),
		DemoStatus:       e.DemoStatus(),
		Deposit:          e.DepositAmount(),
		APR:              e.APR(),
		TimeUnit:         e.TimeUnit(),
		ProfitPerSecond:  e.ProfitPerSecond(),
		ProfitTracking:   e.IsProfitTracking(),
		AutoRebalance:    e.IsAutoRebalanceEnabled(),
		PriceRange:       e.CurrentRange(),
		SimulatedSeconds: e.SimulatedElapsed().Seconds(),
	}
	if s.session != nil {
		if c, ok := s.session.Challenge(); ok {
			resp.Challenge = &c
		}
		resp.Progress = s.session.Progress()
	}
	if s.harvest != nil {
		t := s.harvest.Totals()
		resp.Totals = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getChallenges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.Challenges)
}

type depositRequest struct {
	Deposit    float64 `json:"deposit"`
	APRPercent float64 `json:"apr_percent"`
}

func (s *Server) setDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Deposit < 0 || req.APRPercent < 0 {
		s.writeError(w, fmt.Errorf("%w: deposit and apr must not be negative", errBadRequest))
		return
	}
	s.engine.SetDepositAndAPR(req.Deposit, req.APRPercent)
	if s.metrics != nil {
		s.metrics.ObserveDeposit(s.engine.DepositAmount())
	}
	s.getState(w, r)
}

type timeUnitRequest struct {
	Unit string `json:"unit"`
}

func (s *Server) setTimeUnit(w http.ResponseWriter, r *http.Request) {
	var req timeUnitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	u, err := model.ParseTimeUnit(req.Unit)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.engine.SetTimeUnit(u)
	s.getState(w, r)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAutoRebalance(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.engine.SetAutoRebalanceEnabled(req.Enabled)
	s.getState(w, r)
}

func (s *Server) setPriceRange(w http.ResponseWriter, r *http.Request) {
	var req model.PriceRange
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var err error
	if s.session != nil {
		err = s.session.SetPriceRange(req)
	} else if err = req.Validate(); err == nil {
		s.engine.SetPriceRange(req)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.getState(w, r)
}

type startDemoRequest struct {
	Challenge  string  `json:"challenge"`
	APRPercent float64 `json:"apr_percent"`
}

// startDemo starts a challenge when one is named, otherwise runs the demo
// with the deposit already configured.
func (s *Server) startDemo(w http.ResponseWriter, r *http.Request) {
	var req startDemoRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var err error
	if req.Challenge != "" && s.session != nil {
		err = s.session.StartChallenge(req.Challenge, req.APRPercent)
	} else {
		err = s.engine.StartDemoWithSettings()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.getState(w, r)
}

type pauseRequest struct {
	ResumeAfterMS int64 `json:"resume_after_ms"`
}

func (s *Server) pauseDemo(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.ResumeAfterMS < 0 {
		s.writeError(w, fmt.Errorf("%w: resume_after_ms must not be negative", errBadRequest))
		return
	}
	s.engine.PauseDemo(time.Duration(req.ResumeAfterMS) * time.Millisecond)
	s.getState(w, r)
}

type animationResponse struct {
	ForceAnimation bool `json:"force_animation"`
}

// consumeAnimation hands the one-shot rebalance animation flag to a single
// renderer. Later reads return false until the next automatic rebalance.
func (s *Server) consumeAnimation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, animationResponse{ForceAnimation: s.engine.ConsumeRebalanceAnimation()})
}

func (s *Server) doHarvest(w http.ResponseWriter, r *http.Request) {
	if s.harvest == nil {
		amount := s.engine.HarvestHarvestable()
		if amount <= 0 {
			s.writeError(w, harvest.ErrNothingToHarvest)
			return
		}
		writeJSON(w, http.StatusOK, model.HarvestRecord{Timestamp: time.Now(), Gross: amount, Net: amount})
		return
	}
	record, err := s.harvest.Harvest(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) getHarvests(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.repo.RecentHarvests(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if out == nil {
		out = []model.HarvestRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRebalances(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.repo.RecentRebalances(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if out == nil {
		out = []model.RebalanceEvent{}
	}
	writeJSON(w, http.StatusOK, out)
}

// command adapts a no-argument engine operation into a handler that answers
// with the resulting state.
func (s *Server) command(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		s.getState(w, r)
	}
}

func historyLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
	}
	return min(n, maxHistoryLimit), nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, session.ErrUnknownChallenge),
		errors.Is(err, session.ErrInvalidAPR):
		return http.StatusBadRequest
	case errors.Is(err, simulator.ErrNoDeposit),
		errors.Is(err, harvest.ErrNothingToHarvest):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
