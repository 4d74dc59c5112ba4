package metrics

import (
	"context"
	"fmt"
	"math"
)

// Session is a request-scoped memo over the engine. A velocity series
// recomputes the same weekly snapshot many times within one request; the memo
// collapses those into one computation. Sessions are never shared across
// requests.
type Session struct {
	engine *Engine
	memo   map[string]WeeklySnapshot
}

func (e *Engine) NewSession() *Session {
	return &Session{
		engine: e,
		memo:   make(map[string]WeeklySnapshot),
	}
}

// Weekly returns the snapshot for (weekOffset, assigneeID), computing it at
// most once per session.
func (s *Session) Weekly(ctx context.Context, weekOffset int, assigneeID int64) WeeklySnapshot {
	key := fmt.Sprintf("%d_%d", weekOffset, assigneeID)
	if snap, ok := s.memo[key]; ok {
		return snap
	}
	snap := s.engine.Compute(ctx, weekOffset, assigneeID)
	s.memo[key] = snap
	return snap
}

// VelocityHistory returns one entry per week for the last `weeks` weeks, in
// chronological order, zero weeks included.
func (s *Session) VelocityHistory(ctx context.Context, weeks int, assigneeID int64) VelocityHistory {
	if weeks <= 0 {
		weeks = 8
	}
	history := make([]VelocityWeek, 0, weeks)
	for offset := -(weeks - 1); offset <= 0; offset++ {
		snap := s.Weekly(ctx, offset, assigneeID)
		history = append(history, VelocityWeek{
			Week:      snap.Week.Label,
			WeekStart: snap.Week.Start,
			Points:    snap.Summary.PointsCompleted,
			Tasks:     snap.Summary.TasksCompleted,
			Hours:     snap.Summary.TotalTimeHours,
		})
	}
	return VelocityHistory{History: history}
}

// DailyAverages averages the nonzero per-weekday point totals across the
// requested historical weeks. A weekday with no nonzero weeks averages to 0.
func (s *Session) DailyAverages(ctx context.Context, weeks int, assigneeID int64) map[string]float64 {
	if weeks <= 0 {
		weeks = 8
	}
	totals := make(map[string][]int, len(dayNames))
	for offset := 0; offset > -weeks; offset-- {
		snap := s.Weekly(ctx, offset, assigneeID)
		for _, day := range dayNames {
			if points := snap.DailyBreakdown[day].Points; points > 0 {
				totals[day] = append(totals[day], points)
			}
		}
	}

	averages := make(map[string]float64, len(dayNames))
	for _, day := range dayNames {
		values := totals[day]
		if len(values) == 0 {
			averages[day] = 0
			continue
		}
		var sum int
		for _, v := range values {
			sum += v
		}
		averages[day] = math.Round(float64(sum)/float64(len(values))*10) / 10
	}
	return averages
}
