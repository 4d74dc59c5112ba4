package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	config "pulsedash/app/configs"
	"pulsedash/app/core/cache"
	"pulsedash/app/core/clickup"
	"pulsedash/app/core/health"
	"pulsedash/app/core/metrics"
	"pulsedash/app/core/snapshot"
	"pulsedash/app/core/task"
	"pulsedash/app/pkg/logger"
)

// ErrInFlight reports that a refresh of the same kind is already running;
// the trigger is dropped, not queued.
var ErrInFlight = errors.New("refresh already in progress")

// Service runs the full refresh passes that feed the cache tiers. The task
// store is always replaced before any snapshot is computed from it, so a
// reader never sees a snapshot newer than its underlying tasks.
type Service struct {
	cfg           *config.Manager
	upstream      *clickup.Client
	tasks         *task.Store
	snapshots     *snapshot.Store
	health        *health.Builder
	shortCache    *cache.Cache
	metricsActive atomic.Bool
	healthActive  atomic.Bool
}

func NewService(cfg *config.Manager, upstream *clickup.Client, tasks *task.Store, snapshots *snapshot.Store, healthBuilder *health.Builder, shortCache *cache.Cache) *Service {
	return &Service{
		cfg:        cfg,
		upstream:   upstream,
		tasks:      tasks,
		snapshots:  snapshots,
		health:     healthBuilder,
		shortCache: shortCache,
	}
}

// memorySource serves the freshly fetched task set to the metrics engine.
type memorySource struct {
	tasks []task.Task
}

func (m *memorySource) Tasks(context.Context) []task.Task { return m.tasks }

// RefreshMetrics fetches the full task set and rebuilds the durable task
// store and every metrics snapshot. A pass already in flight makes this a
// no-op.
func (s *Service) RefreshMetrics(ctx context.Context) error {
	if !s.metricsActive.CompareAndSwap(false, true) {
		logger.Info("Metrics refresh already running; trigger ignored")
		return ErrInFlight
	}
	defer s.metricsActive.Store(false)

	passID := uuid.NewString()
	logger.Info("Starting metrics refresh %s", passID)

	s.shortCache.Clear()
	fresh := s.upstream.FetchAllTasks(ctx)

	if len(fresh) == 0 {
		if count, err := s.tasks.Count(ctx); err == nil && count > 0 {
			return fmt.Errorf("refresh %s: upstream returned no tasks, keeping %d stored", passID, count)
		}
	}

	// Durable tier first; snapshots are derived from what readers can see.
	if err := s.tasks.ReplaceAll(ctx, fresh); err != nil {
		return fmt.Errorf("refresh %s: replacing task store: %w", passID, err)
	}

	cfg := s.cfg.Get()
	weeks := cfg.Metrics.HistoryWeeks
	session := metrics.NewEngine(&memorySource{tasks: fresh}, cfg.Metrics).NewSession()

	var failed int
	put := func(kind, subject string, payload interface{}) {
		if err := s.snapshots.Put(ctx, kind, subject, payload, passID); err != nil {
			failed++
			logger.Error("Error caching %s/%s: %v", kind, subject, err)
		}
	}

	for offset := 0; offset >= -weeks; offset-- {
		put(snapshot.KindMetrics, snapshot.MetricsSubject(0, offset), session.Weekly(ctx, offset, 0))
	}
	put(snapshot.KindVelocity, snapshot.SeriesSubject(0), session.VelocityHistory(ctx, weeks, 0))
	put(snapshot.KindDailyAverages, snapshot.SeriesSubject(0), session.DailyAverages(ctx, weeks, 0))

	members := s.upstream.CompanyMembers(ctx)
	put(snapshot.KindTeam, snapshot.SubjectAll, members)

	for _, member := range members {
		put(snapshot.KindMetrics, snapshot.MetricsSubject(member.ID, 0), session.Weekly(ctx, 0, member.ID))
		put(snapshot.KindVelocity, snapshot.SeriesSubject(member.ID), session.VelocityHistory(ctx, weeks, member.ID))
		put(snapshot.KindDailyAverages, snapshot.SeriesSubject(member.ID), session.DailyAverages(ctx, weeks, member.ID))
	}

	if failed > 0 {
		return fmt.Errorf("refresh %s: %d snapshots failed to store", passID, failed)
	}
	logger.Info("Metrics refresh %s completed: %d tasks, %d members", passID, len(fresh), len(members))
	return nil
}

// RefreshHealth rebuilds the client health snapshot. A pass already in
// flight makes this a no-op.
func (s *Service) RefreshHealth(ctx context.Context) error {
	if !s.healthActive.CompareAndSwap(false, true) {
		logger.Info("Health refresh already running; trigger ignored")
		return ErrInFlight
	}
	defer s.healthActive.Store(false)

	passID := uuid.NewString()
	logger.Info("Starting health refresh %s", passID)

	payload := s.health.Build(ctx)
	if err := s.snapshots.PutHealth(ctx, payload, passID); err != nil {
		return fmt.Errorf("refresh %s: storing health snapshot: %w", passID, err)
	}
	logger.Info("Health refresh %s completed: %d clients", passID, payload.Summary.Total)
	return nil
}

// WarmIfEmpty fires detached refreshes for any tier found empty, so the
// first request after a cold start is never blocked on upstream calls.
func (s *Service) WarmIfEmpty(ctx context.Context) {
	if count, err := s.tasks.Count(ctx); err == nil && count == 0 {
		logger.Info("Task store empty; warming metrics in background")
		go func() {
			if err := s.RefreshMetrics(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrInFlight) {
				logger.Error("Cold-start metrics refresh failed: %v", err)
			}
		}()
	}
	if s.snapshots.HealthEmpty(ctx) {
		logger.Info("Health snapshot empty; warming health in background")
		go func() {
			if err := s.RefreshHealth(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrInFlight) {
				logger.Error("Cold-start health refresh failed: %v", err)
			}
		}()
	}
}
