package health

import (
	"math"
	"sort"
	"time"

	"pulsedash/app/core/task"
)

// Only the worst offenders make the dashboard's attention list.
const maxOverdueListed = 10

type OverdueTask struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DueDate     string   `json:"due_date"`
	DaysOverdue int      `json:"days_overdue"`
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	Assignees   []string `json:"assignees"`
}

// TaskMetrics summarizes one client's board.
type TaskMetrics struct {
	Open           int           `json:"open"`
	Overdue        int           `json:"overdue"`
	Completed      int           `json:"completed"`
	Total          int           `json:"total"`
	CompletionRate float64       `json:"completion_rate"`
	AvgDaysOverdue float64       `json:"avg_days_overdue"`
	OverdueList    []OverdueTask `json:"overdue_list"`
	Assignees      []string      `json:"assignees"`
}

// AnalyzeTasks folds a client's task list into the counts and overdue detail
// the scorer and the dashboard consume.
func AnalyzeTasks(tasks []task.Task, now time.Time) TaskMetrics {
	var (
		open      int
		completed int
		overdue   []OverdueTask
		assignees = map[string]bool{}
	)

	for _, t := range tasks {
		for _, a := range t.Assignees {
			if a.Username != "" {
				assignees[a.Username] = true
			}
		}

		if t.IsComplete {
			completed++
			continue
		}
		open++
		if t.DueDate == nil || !t.DueDate.Before(now) {
			continue
		}
		names := make([]string, 0, len(t.Assignees))
		for _, a := range t.Assignees {
			names = append(names, a.Username)
		}
		overdue = append(overdue, OverdueTask{
			ID:          t.ID,
			Name:        t.Name,
			DueDate:     t.DueDate.UTC().Format(time.RFC3339),
			DaysOverdue: int(now.Sub(*t.DueDate).Hours() / 24),
			URL:         t.URL,
			Status:      t.Status,
			Assignees:   names,
		})
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DaysOverdue > overdue[j].DaysOverdue
	})

	metrics := TaskMetrics{
		Open:        open,
		Overdue:     len(overdue),
		Completed:   completed,
		Total:       len(tasks),
		OverdueList: overdue,
		Assignees:   sortedKeys(assignees),
	}
	if metrics.Total > 0 {
		metrics.CompletionRate = round1(float64(completed) / float64(metrics.Total) * 100)
	}
	if len(overdue) > 0 {
		var sum int
		for _, o := range overdue {
			sum += o.DaysOverdue
		}
		metrics.AvgDaysOverdue = round1(float64(sum) / float64(len(overdue)))
	}
	if len(metrics.OverdueList) > maxOverdueListed {
		metrics.OverdueList = metrics.OverdueList[:maxOverdueListed]
	}
	return metrics
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
