package metrics

import (
	"context"
	"reflect"
	"testing"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/task"
)

type sliceSource struct {
	tasks []task.Task
	calls int
}

func (s *sliceSource) Tasks(ctx context.Context) []task.Task {
	s.calls++
	return s.tasks
}

func testMetricsConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Timezone:          "UTC",
		ActiveStatuses:    []string{"in progress", "in review", "waiting response", "doing", "active", "working"},
		ExcludedAssignees: []string{"Fazail Sabri"},
		HistoryWeeks:      8,
	}
}

// Wednesday Aug 26 2026; the containing week is Mon Aug 24 .. Sun Aug 30.
var testNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func newTestEngine(tasks []task.Task) (*Engine, *sliceSource) {
	source := &sliceSource{tasks: tasks}
	engine := NewEngine(source, testMetricsConfig())
	engine.SetClock(func() time.Time { return testNow })
	return engine, source
}

func closedAt(t time.Time) *time.Time { return &t }

func TestComputeSingleMemberWeek(t *testing.T) {
	closed := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine([]task.Task{
		{
			ID:          "t-1",
			Name:        "Email campaign build",
			Score:       5,
			Status:      "complete",
			IsComplete:  true,
			DateClosed:  closedAt(closed),
			Assignees:   []task.Assignee{{ID: 11, Username: "Luke Shumaker"}},
			TimeSpentMS: 6 * 60 * 60 * 1000,
		},
		{
			ID:        "t-2",
			Name:      "Someone else's task",
			Score:     8,
			Status:    "in progress",
			Assignees: []task.Assignee{{ID: 22, Username: "Razvan Crisan"}},
		},
	})

	snap := engine.Compute(context.Background(), 0, 11)

	if snap.Summary.PointsCompleted != 5 || snap.Summary.TasksCompleted != 1 {
		t.Fatalf("unexpected summary: %+v", snap.Summary)
	}
	fives := snap.ScoreMetrics[5]
	if fives.ActualAvg == nil || *fives.ActualAvg != 6.0 {
		t.Fatalf("unexpected actual avg: %+v", fives)
	}
	if fives.Status != StatusOnTrack {
		t.Fatalf("6h on a 5 (max 8) should be on_track, got %s", fives.Status)
	}
	if fives.Efficiency == nil || *fives.Efficiency != 1.0 {
		t.Fatalf("expected efficiency 1.0, got %+v", fives.Efficiency)
	}
	if snap.Summary.PointsInProgress != 0 {
		t.Fatalf("assignee filter leaked another member's task: %+v", snap.Summary)
	}
}

func TestComputeBuckets(t *testing.T) {
	closed := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	lastWeek := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine([]task.Task{
		{ID: "c1", Score: 3, IsComplete: true, DateClosed: closedAt(closed)},
		{ID: "c2", Score: 2, IsComplete: true, DateClosed: closedAt(lastWeek)},
		{ID: "p1", Score: 5, Status: "In Review"},
		{ID: "p2", Score: 8, Status: "working"},
		{ID: "b1", Score: 13, Status: "Backlog"},
		{ID: "x1", Score: 1, Status: "to do"},
	})

	snap := engine.Compute(context.Background(), 0, 0)

	if snap.Summary.PointsCompleted != 3 || snap.Summary.TasksCompleted != 1 {
		t.Fatalf("completed bucket wrong: %+v", snap.Summary)
	}
	if snap.Summary.PointsInProgress != 13 || snap.Summary.TasksInProgress != 2 {
		t.Fatalf("in-progress bucket wrong: %+v", snap.Summary)
	}
	if snap.Summary.PointsNextWeek != 13 {
		t.Fatalf("backlog bucket wrong: %+v", snap.Summary)
	}
}

func TestComputeEmptySourceIsWellFormed(t *testing.T) {
	engine, _ := newTestEngine(nil)

	snap := engine.Compute(context.Background(), 0, 0)

	if snap.Summary.PointsCompleted != 0 || snap.Summary.TasksCompleted != 0 {
		t.Fatalf("expected zero summary: %+v", snap.Summary)
	}
	if len(snap.DailyBreakdown) != 7 {
		t.Fatalf("expected 7 weekday rows, got %d", len(snap.DailyBreakdown))
	}
	if len(snap.ScoreMetrics) != len(task.ValidScores) {
		t.Fatalf("expected a metric per valid score, got %d", len(snap.ScoreMetrics))
	}
	for score, m := range snap.ScoreMetrics {
		if m.Status != StatusNoData {
			t.Fatalf("score %d should be no_data with no tasks, got %s", score, m.Status)
		}
	}
	if snap.Week.Start != "2026-08-24" || snap.Week.End != "2026-08-30" {
		t.Fatalf("unexpected week bounds: %+v", snap.Week)
	}
}

func TestClassifyEfficiencyBands(t *testing.T) {
	for score, expected := range ExpectedHours {
		if got := ClassifyEfficiency(score, expected.Min); got != StatusOnTrack {
			t.Fatalf("score %d at min should be on_track, got %s", score, got)
		}
		if got := ClassifyEfficiency(score, expected.Max); got != StatusOnTrack {
			t.Fatalf("score %d at max should be on_track, got %s", score, got)
		}
		if got := ClassifyEfficiency(score, expected.Min-0.01); got != StatusExceeding {
			t.Fatalf("score %d below min should be exceeding, got %s", score, got)
		}
		if got := ClassifyEfficiency(score, expected.Max+0.01); got != StatusOver {
			t.Fatalf("score %d above max should be over, got %s", score, got)
		}
	}
	if got := ClassifyEfficiency(4, 2); got != StatusNoData {
		t.Fatalf("invalid score should be no_data, got %s", got)
	}
}

func TestUnderestimatedTasksTopTen(t *testing.T) {
	closed := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	var tasks []task.Task
	for i := 0; i < 12; i++ {
		tasks = append(tasks, task.Task{
			ID:          string(rune('a' + i)),
			Score:       1,
			IsComplete:  true,
			DateClosed:  closedAt(closed),
			TimeSpentMS: int64(2+i) * 60 * 60 * 1000, // all exceed max of 1h
		})
	}
	// Within expected range, must not appear.
	tasks = append(tasks, task.Task{
		ID: "ok", Score: 5, IsComplete: true, DateClosed: closedAt(closed),
		TimeSpentMS: 5 * 60 * 60 * 1000,
	})
	engine, _ := newTestEngine(tasks)

	snap := engine.Compute(context.Background(), 0, 0)

	if len(snap.UnderestimatedTasks) != 10 {
		t.Fatalf("expected worst 10 retained, got %d", len(snap.UnderestimatedTasks))
	}
	for i := 1; i < len(snap.UnderestimatedTasks); i++ {
		if snap.UnderestimatedTasks[i].Overage > snap.UnderestimatedTasks[i-1].Overage {
			t.Fatal("overruns must be sorted by overage descending")
		}
	}
	for _, o := range snap.UnderestimatedTasks {
		if o.ID == "ok" {
			t.Fatal("task within expected range must not be listed as underestimated")
		}
	}
}

func TestAssigneeBreakdownExcludesDenylist(t *testing.T) {
	closed := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine([]task.Task{
		{
			ID: "t-1", Score: 5, IsComplete: true, DateClosed: closedAt(closed),
			Assignees: []task.Assignee{
				{ID: 11, Username: "Luke Shumaker"},
				{ID: 99, Username: "Fazail Sabri"},
			},
		},
	})

	snap := engine.Compute(context.Background(), 0, 0)

	if len(snap.AssigneeBreakdown) != 1 {
		t.Fatalf("expected denylisted assignee omitted, got %+v", snap.AssigneeBreakdown)
	}
	if snap.AssigneeBreakdown[0].Username != "Luke Shumaker" || snap.AssigneeBreakdown[0].Points != 5 {
		t.Fatalf("unexpected breakdown: %+v", snap.AssigneeBreakdown[0])
	}
}

func TestSessionMemoizesWithinRequest(t *testing.T) {
	engine, source := newTestEngine(nil)
	session := engine.NewSession()
	ctx := context.Background()

	first := session.Weekly(ctx, 0, 0)
	second := session.Weekly(ctx, 0, 0)

	if source.calls != 1 {
		t.Fatalf("expected exactly one source read, got %d", source.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("memoized result must be identical")
	}

	// A new session recomputes.
	engine.NewSession().Weekly(ctx, 0, 0)
	if source.calls != 2 {
		t.Fatalf("fresh session should recompute, calls=%d", source.calls)
	}
}

func TestVelocityHistoryEightAscendingWeeks(t *testing.T) {
	engine, _ := newTestEngine(nil)
	session := engine.NewSession()

	history := session.VelocityHistory(context.Background(), 8, 0).History

	if len(history) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].WeekStart <= history[i-1].WeekStart {
			t.Fatalf("weeks must ascend: %s then %s", history[i-1].WeekStart, history[i].WeekStart)
		}
	}
	if history[7].WeekStart != "2026-08-24" {
		t.Fatalf("last entry should be the current week, got %s", history[7].WeekStart)
	}
}

func TestDailyAveragesSkipZeroWeeks(t *testing.T) {
	thisTue := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	lastTue := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine([]task.Task{
		{ID: "a", Score: 5, IsComplete: true, DateClosed: closedAt(thisTue)},
		{ID: "b", Score: 1, IsComplete: true, DateClosed: closedAt(lastTue)},
	})
	session := engine.NewSession()

	averages := session.DailyAverages(context.Background(), 8, 0)

	if averages["Tue"] != 3 {
		t.Fatalf("expected Tue average of nonzero weeks (5+1)/2=3, got %v", averages["Tue"])
	}
	if averages["Fri"] != 0 {
		t.Fatalf("weekday with no completions should average 0, got %v", averages["Fri"])
	}
}

func TestWeekBoundsMondayThroughSunday(t *testing.T) {
	monday, sunday := weekBounds(testNow, 0, time.UTC)
	if monday.Weekday() != time.Monday || monday.Hour() != 0 {
		t.Fatalf("unexpected monday: %v", monday)
	}
	if sunday.Weekday() != time.Sunday || sunday.Hour() != 23 || sunday.Second() != 59 {
		t.Fatalf("unexpected sunday: %v", sunday)
	}

	prevMonday, _ := weekBounds(testNow, -1, time.UTC)
	if !prevMonday.AddDate(0, 0, 7).Equal(monday) {
		t.Fatalf("offset -1 should step back one week: %v vs %v", prevMonday, monday)
	}
}
