package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/capacity"
	"pulsedash/app/core/clickup"
	"pulsedash/app/core/mappings"
	"pulsedash/app/core/metrics"
	"pulsedash/app/core/overrides"
	"pulsedash/app/core/refresh"
	"pulsedash/app/core/scheduler"
	"pulsedash/app/core/snapshot"
	"pulsedash/app/core/task"
	"pulsedash/app/pkg/logger"
)

const defaultShutdownTimeout = 5 * time.Second

// Refresher triggers cache rebuilds. Satisfied by *refresh.Service.
type Refresher interface {
	RefreshMetrics(ctx context.Context) error
	RefreshHealth(ctx context.Context) error
	WarmIfEmpty(ctx context.Context)
}

// InsightSource generates the natural-language sprint summary.
// Satisfied by *llm.Classifier.
type InsightSource interface {
	Insights(ctx context.Context, snapshot metrics.WeeklySnapshot, velocity metrics.VelocityHistory) string
}

// Server is the dashboard API. Reads are served from the snapshot tier and
// fall back to recomputing from the durable task store; they never call
// upstream APIs inline. Writes go to the JSON-file stores.
type Server struct {
	cfg       *config.Manager
	snapshots *snapshot.Store
	tasks     *task.Store

	capacity  *capacity.Store
	mappings  *mappings.Store
	overrides *overrides.Store
	upstream  *clickup.Client
	refresher Refresher
	insights  InsightSource
	sched     *scheduler.Scheduler

	server          *http.Server
	shutdownTimeout time.Duration
	startedUnix     atomic.Int64
}

func NewServer(cfg *config.Manager, snapshots *snapshot.Store, tasks *task.Store) *Server {
	return &Server{
		cfg:             cfg,
		snapshots:       snapshots,
		tasks:           tasks,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

func (s *Server) SetCapacityStore(store *capacity.Store) {
	s.capacity = store
}

func (s *Server) SetMappingStore(store *mappings.Store) {
	s.mappings = store
}

func (s *Server) SetOverrideStore(store *overrides.Store) {
	s.overrides = store
}

func (s *Server) SetUpstream(client *clickup.Client) {
	s.upstream = client
}

func (s *Server) SetRefresher(refresher Refresher) {
	s.refresher = refresher
}

func (s *Server) SetInsightSource(source InsightSource) {
	s.insights = source
}

func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.sched = sched
}

func (s *Server) SetShutdownTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	s.shutdownTimeout = timeout
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startedUnix.Store(time.Now().Unix())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Get().Server.Port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error: %v", err)
		}
	}()

	logger.Info("HTTP listening on port %d", s.cfg.Get().Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics", s.view(s.handleMetrics))
	mux.HandleFunc("/api/velocity", s.view(s.handleVelocity))
	mux.HandleFunc("/api/daily-averages", s.view(s.handleDailyAverages))
	mux.HandleFunc("/api/team", s.view(s.handleTeam))
	mux.HandleFunc("/api/team-capacity", s.viewOrAdmin(s.handleTeamCapacity))
	mux.HandleFunc("/api/client-health", s.view(s.handleClientHealth))
	mux.HandleFunc("/api/client-health/override", s.admin(s.handleOverride))
	mux.HandleFunc("/api/client-mappings", s.viewOrAdmin(s.handleMappings))
	mux.HandleFunc("/api/insights", s.view(s.handleInsights))
	mux.HandleFunc("/api/cache-status", s.view(s.handleCacheStatus))
	mux.HandleFunc("/api/refresh-cache", s.admin(s.handleRefresh))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// view admits the view token or the admin token. An empty view token leaves
// the read surface open, which is how local development runs.
func (s *Server) view(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srvCfg := s.cfg.Get().Server
		token := requestToken(r)
		if srvCfg.ViewToken != "" && token != srvCfg.ViewToken && token != srvCfg.AdminToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// admin admits the admin token only.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srvCfg := s.cfg.Get().Server
		if srvCfg.AdminToken != "" && requestToken(r) != srvCfg.AdminToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// viewOrAdmin gates GET with the view rule and everything else with the
// admin rule.
func (s *Server) viewOrAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.view(next)(w, r)
			return
		}
		s.admin(next)(w, r)
	}
}

func requestToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	weekOffset := intParam(r, "week_offset", 0)
	assigneeID := int64Param(r, "assignee_id", 0)

	subject := snapshot.MetricsSubject(assigneeID, weekOffset)
	if raw, ok := s.snapshots.Get(r.Context(), snapshot.KindMetrics, subject); ok {
		writeRaw(w, raw)
		return
	}

	session, ok := s.storeSession(r.Context())
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	writeJSON(w, http.StatusOK, session.Weekly(r.Context(), weekOffset, assigneeID))
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	assigneeID := int64Param(r, "assignee_id", 0)

	if raw, ok := s.snapshots.Get(r.Context(), snapshot.KindVelocity, snapshot.SeriesSubject(assigneeID)); ok {
		writeRaw(w, raw)
		return
	}

	session, ok := s.storeSession(r.Context())
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	weeks := s.cfg.Get().Metrics.HistoryWeeks
	writeJSON(w, http.StatusOK, session.VelocityHistory(r.Context(), weeks, assigneeID))
}

func (s *Server) handleDailyAverages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	assigneeID := int64Param(r, "assignee_id", 0)

	if raw, ok := s.snapshots.Get(r.Context(), snapshot.KindDailyAverages, snapshot.SeriesSubject(assigneeID)); ok {
		writeRaw(w, raw)
		return
	}

	session, ok := s.storeSession(r.Context())
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	weeks := s.cfg.Get().Metrics.HistoryWeeks
	writeJSON(w, http.StatusOK, session.DailyAverages(r.Context(), weeks, assigneeID))
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	members, ok := s.teamMembers(r.Context())
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleTeamCapacity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		members, _ := s.teamMembers(r.Context())
		caps := s.capacity.BuildTeamCapacity(members, s.cfg.Get().Capacity)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"capacity":        caps,
			"total_hours":     totalHours(caps),
			"expected_points": capacity.ExpectedTeamPoints(caps),
		})
	case http.MethodPost:
		var body map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := s.capacity.Save(body); err != nil {
			logger.Error("Error saving team capacity: %v", err)
			http.Error(w, "Failed to save capacity", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClientHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, ok := s.snapshots.GetHealth(r.Context())
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	if s.overrides != nil {
		raw = s.overrides.Apply(raw)
	}
	writeRaw(w, raw)
}

type overrideRequest struct {
	Client       string `json:"client"`
	Rating       string `json:"rating"`
	Reason       string `json:"reason"`
	OverriddenBy string `json:"overridden_by"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.Client == "" {
			http.Error(w, "client is required", http.StatusBadRequest)
			return
		}
		if err := s.overrides.Save(body.Client, body.Rating, body.Reason, body.OverriddenBy); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "client": body.Client})
	case http.MethodDelete:
		client := r.URL.Query().Get("client")
		if client == "" {
			http.Error(w, "client is required", http.StatusBadRequest)
			return
		}
		if err := s.overrides.Delete(client); err != nil {
			logger.Error("Error deleting override for %s: %v", client, err)
			http.Error(w, "Failed to delete override", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "client": client})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.mappings.Load())
	case http.MethodPost:
		var body mappings.Mappings
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := s.mappings.Save(body); err != nil {
			logger.Error("Error saving client mappings: %v", err)
			http.Error(w, "Failed to save mappings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	weekOffset := intParam(r, "week_offset", 0)
	assigneeID := int64Param(r, "assignee_id", 0)

	weekly, velocity, ok := s.reportData(r.Context(), weekOffset, assigneeID)
	if !ok {
		s.writeBuilding(w, r)
		return
	}
	text := s.insights.Insights(r.Context(), weekly, velocity)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"insights":    text,
		"week_offset": weekOffset,
		"week":        weekly.Week,
	})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	taskCount, err := s.tasks.Count(ctx)
	if err != nil {
		logger.Error("Error counting stored tasks: %v", err)
	}

	tiers := map[string]interface{}{}
	for _, kind := range []string{snapshot.KindMetrics, snapshot.KindVelocity, snapshot.KindDailyAverages, snapshot.KindTeam} {
		if updated, ok := s.snapshots.LastUpdated(ctx, kind); ok {
			tiers[kind] = updated
		} else {
			tiers[kind] = nil
		}
	}

	status := map[string]interface{}{
		"task_count":   taskCount,
		"snapshots":    tiers,
		"health_ready": !s.snapshots.HealthEmpty(ctx),
		"uptime_sec":   time.Now().Unix() - s.startedUnix.Load(),
	}
	if s.sched != nil {
		status["jobs"] = s.sched.Snapshot()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		target = "all"
	}

	var err error
	switch target {
	case "metrics":
		err = s.refresher.RefreshMetrics(r.Context())
	case "health":
		err = s.refresher.RefreshHealth(r.Context())
	case "all":
		err = s.refresher.RefreshMetrics(r.Context())
		if healthErr := s.refresher.RefreshHealth(r.Context()); err == nil {
			err = healthErr
		}
	default:
		http.Error(w, "target must be metrics, health or all", http.StatusBadRequest)
		return
	}

	if errors.Is(err, refresh.ErrInFlight) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	if err != nil {
		logger.Error("Manual refresh failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "failed", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "target": target})
}

// storeSession builds a compute session over the durable task store. ok is
// false when the store holds nothing to compute from.
func (s *Server) storeSession(ctx context.Context) (*metrics.Session, bool) {
	count, err := s.tasks.Count(ctx)
	if err != nil {
		logger.Error("Error counting stored tasks: %v", err)
		return nil, false
	}
	if count == 0 {
		return nil, false
	}
	engine := metrics.NewEngine(storeSource{s.tasks}, s.cfg.Get().Metrics)
	return engine.NewSession(), true
}

// teamMembers reads the team snapshot, falling back to a live roster call
// when the snapshot tier has never been filled.
func (s *Server) teamMembers(ctx context.Context) ([]clickup.Member, bool) {
	if raw, ok := s.snapshots.Get(ctx, snapshot.KindTeam, snapshot.SubjectAll); ok {
		var members []clickup.Member
		if err := json.Unmarshal(raw, &members); err != nil {
			logger.Error("Error decoding team snapshot: %v", err)
		} else {
			return members, true
		}
	}
	if s.upstream == nil {
		return nil, false
	}
	members := s.upstream.CompanyMembers(ctx)
	return members, len(members) > 0
}

func (s *Server) reportData(ctx context.Context, weekOffset int, assigneeID int64) (metrics.WeeklySnapshot, metrics.VelocityHistory, bool) {
	var weekly metrics.WeeklySnapshot
	var velocity metrics.VelocityHistory

	rawWeekly, okWeekly := s.snapshots.Get(ctx, snapshot.KindMetrics, snapshot.MetricsSubject(assigneeID, weekOffset))
	rawVelocity, okVelocity := s.snapshots.Get(ctx, snapshot.KindVelocity, snapshot.SeriesSubject(assigneeID))
	if okWeekly && okVelocity {
		if json.Unmarshal(rawWeekly, &weekly) == nil && json.Unmarshal(rawVelocity, &velocity) == nil {
			return weekly, velocity, true
		}
	}

	session, ok := s.storeSession(ctx)
	if !ok {
		return weekly, velocity, false
	}
	weeks := s.cfg.Get().Metrics.HistoryWeeks
	return session.Weekly(ctx, weekOffset, assigneeID), session.VelocityHistory(ctx, weeks, assigneeID), true
}

// writeBuilding answers a read that has no data in any tier yet. It kicks a
// background warm-up so the next poll finds something.
func (s *Server) writeBuilding(w http.ResponseWriter, r *http.Request) {
	if s.refresher != nil {
		s.refresher.WarmIfEmpty(r.Context())
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "building",
		"message": "Dashboard data is still building. Try again shortly.",
	})
}

type storeSource struct {
	tasks *task.Store
}

func (s storeSource) Tasks(ctx context.Context) []task.Task {
	loaded, err := s.tasks.LoadAll(ctx)
	if err != nil {
		logger.Error("Error loading stored tasks: %v", err)
		return nil
	}
	return loaded
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func int64Param(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func totalHours(caps map[string]float64) float64 {
	total := 0.0
	for _, hours := range caps {
		total += hours
	}
	return total
}
