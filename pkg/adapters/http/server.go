package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
)

// MaxRunSteps bounds a single POST /run request.
const MaxRunSteps = 100000

// Engine is the part of canopy.Engine served over HTTP.
type Engine interface {
	Statistics() ([]canopy.StatisticValue, error)
	Statistic(name string) (canopy.StatisticValue, error)
	TraitKeys() []string
	Trait(key string) ([][]float64, error)
	Groups() ([]canopy.Group, error)
	GradientReport(tolerance float64) (gradient.Report, error)
	Summary() (canopy.Summary, error)
	Run(ctx context.Context, steps int) error
	Checkpoint(ctx context.Context) (*domain.Checkpoint, error)
	Restore(ctx context.Context, chainID string) (*domain.Checkpoint, error)
	Checkpoints(ctx context.Context) ([]string, error)
}

var _ Engine = (*canopy.Engine)(nil)

// Server serves the reporting API of one engine.
type Server struct {
	Engine  Engine
	Metrics http.Handler
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/summary", s.summary)
	r.Get("/statistics", s.statistics)
	r.Get("/statistics/{name}", s.statistic)
	r.Get("/traits", s.traitKeys)
	r.Get("/traits/{key}", s.trait)
	r.Get("/groups", s.groups)
	r.Get("/report", s.report)
	r.Post("/run", s.run)
	r.Get("/checkpoints", s.listCheckpoints)
	r.Post("/checkpoints", s.saveCheckpoint)
	r.Post("/checkpoints/{chainID}/restore", s.restoreCheckpoint)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// number encodes non-finite values as null.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func numbers(v []float64) []number {
	out := make([]number, len(v))
	for i, x := range v {
		out[i] = number(x)
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
}

type statisticResponse struct {
	Name   string   `json:"name"`
	Values []number `json:"values"`
}

type summaryResponse struct {
	canopy.Summary
	LogPosterior number `json:"log_posterior"`
}

type reportResponse struct {
	Name          string   `json:"name"`
	Parameter     string   `json:"parameter"`
	Analytic      []number `json:"analytic"`
	Numeric       []number `json:"numeric"`
	MaxDifference number   `json:"max_difference"`
	Tolerance     float64  `json:"tolerance"`
	OK            bool     `json:"ok"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCheckpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProtocol):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNumerical):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	s.write(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) write(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
		http.Error(w, "response encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Engine.Summary()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, summaryResponse{Summary: sum, LogPosterior: number(sum.LogPosterior)})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Engine.Statistics()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]statisticResponse, len(stats))
	for i, st := range stats {
		out[i] = statisticResponse{Name: st.Name, Values: numbers(st.Values)}
	}
	s.write(w, http.StatusOK, out)
}

func (s *Server) statistic(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Statistic(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, statisticResponse{Name: st.Name, Values: numbers(st.Values)})
}

func (s *Server) traitKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.Engine.TraitKeys()
	if keys == nil {
		keys = []string{}
	}
	s.write(w, http.StatusOK, keys)
}

func (s *Server) trait(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rows, err := s.Engine.Trait(key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([][]number, len(rows))
	for i, row := range rows {
		out[i] = numbers(row)
	}
	s.write(w, http.StatusOK, map[string]any{"key": key, "rows": out})
}

func (s *Server) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.Engine.Groups()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []canopy.Group{}
	}
	s.write(w, http.StatusOK, groups)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	tolerance := 0.0
	if raw := r.URL.Query().Get("tolerance"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			s.fail(w, r, domain.Configurationf("report", "invalid tolerance %q", raw))
			return
		}
		tolerance = v
	}
	rep, err := s.Engine.GradientReport(tolerance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, reportResponse{
		Name:          rep.Name,
		Parameter:     rep.Parameter,
		Analytic:      numbers(rep.Analytic),
		Numeric:       numbers(rep.Numeric),
		MaxDifference: number(rep.MaxDifference),
		Tolerance:     rep.Tolerance,
		OK:            rep.OK(),
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	steps, err := strconv.Atoi(r.URL.Query().Get("steps"))
	if err != nil || steps <= 0 || steps > MaxRunSteps {
		s.fail(w, r, domain.Configurationf("run", "steps must be an integer in [1, %d]", MaxRunSteps))
		return
	}
	if err := s.Engine.Run(r.Context(), steps); err != nil {
		s.fail(w, r, err)
		return
	}
	s.summary(w, r)
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Checkpoints(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.write(w, http.StatusOK, ids)
}

func (s *Server) saveCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.Checkpoint(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusCreated, checkpointView(cp))
}

func (s *Server) restoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.Restore(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, checkpointView(cp))
}

type checkpointResponse struct {
	ChainID      string `json:"chain_id"`
	Step         int    `json:"step"`
	LogPosterior number `json:"log_posterior"`
	SavedAt      string `json:"saved_at"`
}

func checkpointView(cp *domain.Checkpoint) checkpointResponse {
	return checkpointResponse{
		ChainID:      cp.ChainID,
		Step:         cp.Step,
		LogPosterior: number(cp.LogPosterior),
		SavedAt:      cp.SavedAt.UTC().Format(time.RFC3339),
	}
}
