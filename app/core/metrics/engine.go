package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/task"
)

// TaskSource supplies the canonical task set a computation runs against. The
// refresh path backs it with the live adapter; the read path backs it with
// the durable store.
type TaskSource interface {
	Tasks(ctx context.Context) []task.Task
}

type WeekInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

type Summary struct {
	PointsCompleted  int     `json:"points_completed"`
	PointsInProgress int     `json:"points_in_progress"`
	PointsNextWeek   int     `json:"points_next_week"`
	TasksCompleted   int     `json:"tasks_completed"`
	TasksInProgress  int     `json:"tasks_in_progress"`
	TotalTimeHours   float64 `json:"total_time_hours"`
}

type ScoreMetric struct {
	ExpectedMin    float64  `json:"expected_min"`
	ExpectedMax    float64  `json:"expected_max"`
	ExpectedMid    float64  `json:"expected_mid"`
	ActualAvg      *float64 `json:"actual_avg"`
	TaskCount      int      `json:"task_count"`
	TotalCompleted int      `json:"total_completed"`
	Efficiency     *float64 `json:"efficiency"`
	Status         string   `json:"status"`
}

type DayStat struct {
	Date   string `json:"date"`
	Points int    `json:"points"`
	Tasks  int    `json:"tasks"`
}

type AssigneeStat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
	Tasks    int    `json:"tasks"`
}

type OverrunTask struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       int     `json:"score"`
	ActualHours float64 `json:"actual_hours"`
	ExpectedMax float64 `json:"expected_max"`
	Overage     float64 `json:"overage"`
	URL         string  `json:"url"`
}

type TaskDetail struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Score     int      `json:"score"`
	Status    string   `json:"status"`
	Hours     float64  `json:"hours"`
	URL       string   `json:"url"`
	Assignees []string `json:"assignees"`
}

type TaskDetails struct {
	Completed  []TaskDetail `json:"completed"`
	InProgress []TaskDetail `json:"in_progress"`
}

// WeeklySnapshot is the full derived result for one (week, subject) pair. It
// is a pure function of the task set and the week window, so it caches
// indefinitely until the next refresh replaces the task set.
type WeeklySnapshot struct {
	Week                   WeekInfo                `json:"week"`
	Summary                Summary                 `json:"summary"`
	ScoreMetrics           map[int]ScoreMetric     `json:"score_metrics"`
	ScoreDistribution      map[int]int             `json:"score_distribution"`
	DailyBreakdown         map[string]DayStat      `json:"daily_breakdown"`
	AssigneeBreakdown      []AssigneeStat          `json:"assignee_breakdown"`
	UnderestimatedTasks    []OverrunTask           `json:"underestimated_tasks"`
	ExpectedHoursReference map[int]ExpectedRange   `json:"expected_hours_reference"`
	Tasks                  TaskDetails             `json:"tasks"`
}

type VelocityWeek struct {
	Week      string  `json:"week"`
	WeekStart string  `json:"week_start"`
	Points    int     `json:"points"`
	Tasks     int     `json:"tasks"`
	Hours     float64 `json:"hours"`
}

type VelocityHistory struct {
	History []VelocityWeek `json:"history"`
}

// Engine derives weekly metrics from a task source.
type Engine struct {
	source            TaskSource
	loc               *time.Location
	activeStatuses    map[string]bool
	excludedAssignees map[string]bool
	now               func() time.Time
}

func NewEngine(source TaskSource, cfg config.MetricsConfig) *Engine {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	active := make(map[string]bool, len(cfg.ActiveStatuses))
	for _, s := range cfg.ActiveStatuses {
		active[strings.ToLower(s)] = true
	}
	excluded := make(map[string]bool, len(cfg.ExcludedAssignees))
	for _, name := range cfg.ExcludedAssignees {
		excluded[name] = true
	}
	return &Engine{
		source:            source,
		loc:               loc,
		activeStatuses:    active,
		excludedAssignees: excluded,
		now:               time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Compute derives the weekly snapshot for the given week offset, restricted
// to one assignee when assigneeID is nonzero.
func (e *Engine) Compute(ctx context.Context, weekOffset int, assigneeID int64) WeeklySnapshot {
	monday, sunday := weekBounds(e.now(), weekOffset, e.loc)

	all := e.source.Tasks(ctx)
	if assigneeID != 0 {
		filtered := make([]task.Task, 0, len(all))
		for _, t := range all {
			if t.HasAssignee(assigneeID) {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}

	var (
		completed  []task.Task
		inProgress []task.Task
		nextWeek   []task.Task
	)
	for _, t := range all {
		switch {
		case t.IsComplete:
			if t.DateClosed != nil && !t.DateClosed.Before(monday) && !t.DateClosed.After(sunday) {
				completed = append(completed, t)
			}
		case e.activeStatuses[strings.ToLower(t.Status)]:
			inProgress = append(inProgress, t)
		case strings.EqualFold(t.Status, "backlog"):
			nextWeek = append(nextWeek, t)
		}
	}

	snap := WeeklySnapshot{
		Week: WeekInfo{
			Start: monday.Format("2006-01-02"),
			End:   sunday.Format("2006-01-02"),
			Label: monday.Format("Jan 02") + " - " + sunday.Format("Jan 02, 2006"),
		},
		ScoreMetrics:           make(map[int]ScoreMetric, len(task.ValidScores)),
		ScoreDistribution:      make(map[int]int),
		DailyBreakdown:         make(map[string]DayStat, 7),
		ExpectedHoursReference: ExpectedHours,
	}

	var totalTimeMS int64
	for _, t := range completed {
		snap.Summary.PointsCompleted += t.Score
		totalTimeMS += t.TimeSpentMS
		if t.Score > 0 {
			snap.ScoreDistribution[t.Score]++
		}
	}
	for _, t := range inProgress {
		snap.Summary.PointsInProgress += t.Score
	}
	for _, t := range nextWeek {
		snap.Summary.PointsNextWeek += t.Score
	}
	snap.Summary.TasksCompleted = len(completed)
	snap.Summary.TasksInProgress = len(inProgress)
	snap.Summary.TotalTimeHours = round1(float64(totalTimeMS) / (1000 * 60 * 60))

	snap.ScoreMetrics = e.scoreMetrics(completed)
	snap.DailyBreakdown = e.dailyBreakdown(completed, monday)
	snap.AssigneeBreakdown = e.assigneeBreakdown(completed)
	snap.UnderestimatedTasks = underestimated(completed)
	snap.Tasks = TaskDetails{
		Completed:  e.taskDetails(completed),
		InProgress: e.taskDetails(inProgress),
	}
	return snap
}

// scoreMetrics averages logged hours per score over completed tasks with
// nonzero tracked time and classifies against the expected band.
func (e *Engine) scoreMetrics(completed []task.Task) map[int]ScoreMetric {
	timesPerScore := make(map[int][]float64)
	totalsPerScore := make(map[int]int)
	for _, t := range completed {
		if t.Score == 0 {
			continue
		}
		totalsPerScore[t.Score]++
		if t.TimeSpentMS > 0 {
			timesPerScore[t.Score] = append(timesPerScore[t.Score], t.Hours())
		}
	}

	result := make(map[int]ScoreMetric, len(task.ValidScores))
	for _, score := range task.ValidScores {
		expected := ExpectedHours[score]
		metric := ScoreMetric{
			ExpectedMin:    expected.Min,
			ExpectedMax:    expected.Max,
			ExpectedMid:    expected.Mid,
			TaskCount:      len(timesPerScore[score]),
			TotalCompleted: totalsPerScore[score],
			Status:         StatusNoData,
		}
		if times := timesPerScore[score]; len(times) > 0 {
			var sum float64
			for _, h := range times {
				sum += h
			}
			avg := sum / float64(len(times))
			roundedAvg := round2(avg)
			efficiency := round2(avg / expected.Mid)
			metric.ActualAvg = &roundedAvg
			metric.Efficiency = &efficiency
			metric.Status = ClassifyEfficiency(score, avg)
		}
		result[score] = metric
	}
	return result
}

func (e *Engine) dailyBreakdown(completed []task.Task, monday time.Time) map[string]DayStat {
	breakdown := make(map[string]DayStat, 7)
	for i, name := range dayNames {
		breakdown[name] = DayStat{Date: monday.AddDate(0, 0, i).Format("2006-01-02")}
	}
	for _, t := range completed {
		if t.DateClosed == nil {
			continue
		}
		name := dayNames[weekdayIndex(t.DateClosed.In(e.loc))]
		stat := breakdown[name]
		stat.Points += t.Score
		stat.Tasks++
		breakdown[name] = stat
	}
	return breakdown
}

func (e *Engine) assigneeBreakdown(completed []task.Task) []AssigneeStat {
	byID := make(map[int64]*AssigneeStat)
	for _, t := range completed {
		for _, a := range t.Assignees {
			if e.excludedAssignees[a.Username] {
				continue
			}
			stat, ok := byID[a.ID]
			if !ok {
				stat = &AssigneeStat{ID: a.ID, Username: a.Username}
				byID[a.ID] = stat
			}
			stat.Points += t.Score
			stat.Tasks++
		}
	}
	list := make([]AssigneeStat, 0, len(byID))
	for _, stat := range byID {
		list = append(list, *stat)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Points != list[j].Points {
			return list[i].Points > list[j].Points
		}
		return list[i].Username < list[j].Username
	})
	return list
}

// underestimated returns the ten worst overruns: completed tasks whose logged
// time exceeds the expected max for their score.
func underestimated(completed []task.Task) []OverrunTask {
	var overruns []OverrunTask
	for _, t := range completed {
		if t.Score == 0 || t.TimeSpentMS == 0 {
			continue
		}
		expectedMax := ExpectedHours[t.Score].Max
		actual := t.Hours()
		if actual <= expectedMax {
			continue
		}
		overruns = append(overruns, OverrunTask{
			ID:          t.ID,
			Name:        t.Name,
			Score:       t.Score,
			ActualHours: round1(actual),
			ExpectedMax: expectedMax,
			Overage:     round1(actual - expectedMax),
			URL:         t.URL,
		})
	}
	sort.Slice(overruns, func(i, j int) bool { return overruns[i].Overage > overruns[j].Overage })
	if len(overruns) > 10 {
		overruns = overruns[:10]
	}
	return overruns
}

func (e *Engine) taskDetails(tasks []task.Task) []TaskDetail {
	details := make([]TaskDetail, 0, len(tasks))
	for _, t := range tasks {
		var assignees []string
		for _, a := range t.Assignees {
			if e.excludedAssignees[a.Username] {
				continue
			}
			assignees = append(assignees, a.Username)
		}
		details = append(details, TaskDetail{
			ID:        t.ID,
			Name:      t.Name,
			Score:     t.Score,
			Status:    t.Status,
			Hours:     round1(t.Hours()),
			URL:       t.URL,
			Assignees: assignees,
		})
	}
	return details
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
