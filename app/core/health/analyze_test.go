package health

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"pulsedash/app/core/task"
)

var analyzeNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func daysAgo(days int) *time.Time {
	t := analyzeNow.AddDate(0, 0, -days)
	return &t
}

func TestAnalyzeTasksCounts(t *testing.T) {
	tasks := []task.Task{
		{ID: "1", Name: "done", IsComplete: true, Assignees: []task.Assignee{{ID: 1, Username: "Luke"}}},
		{ID: "2", Name: "open no due", Status: "in progress"},
		{ID: "3", Name: "late", Status: "in progress", DueDate: daysAgo(5), Assignees: []task.Assignee{{ID: 2, Username: "Adri"}}},
		{ID: "4", Name: "later", Status: "backlog", DueDate: daysAgo(12)},
		{ID: "5", Name: "due tomorrow", Status: "in progress", DueDate: daysAgo(-1)},
	}

	m := AnalyzeTasks(tasks, analyzeNow)
	if m.Open != 4 || m.Completed != 1 || m.Total != 5 {
		t.Fatalf("open=%d completed=%d total=%d", m.Open, m.Completed, m.Total)
	}
	if m.Overdue != 2 {
		t.Fatalf("overdue = %d, want 2", m.Overdue)
	}
	if m.CompletionRate != 20.0 {
		t.Fatalf("completion rate = %v, want 20.0", m.CompletionRate)
	}
	if m.AvgDaysOverdue != 8.5 {
		t.Fatalf("avg days overdue = %v, want 8.5", m.AvgDaysOverdue)
	}
	if !reflect.DeepEqual(m.Assignees, []string{"Adri", "Luke"}) {
		t.Fatalf("assignees = %v", m.Assignees)
	}
}

func TestAnalyzeTasksOverdueSortedWorstFirst(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Name: "a bit late", DueDate: daysAgo(2)},
		{ID: "b", Name: "very late", DueDate: daysAgo(20)},
		{ID: "c", Name: "late", DueDate: daysAgo(9)},
	}
	m := AnalyzeTasks(tasks, analyzeNow)
	if len(m.OverdueList) != 3 {
		t.Fatalf("overdue list len = %d", len(m.OverdueList))
	}
	if m.OverdueList[0].ID != "b" || m.OverdueList[1].ID != "c" || m.OverdueList[2].ID != "a" {
		t.Fatalf("order = %s %s %s", m.OverdueList[0].ID, m.OverdueList[1].ID, m.OverdueList[2].ID)
	}
	if m.OverdueList[0].DaysOverdue != 20 {
		t.Fatalf("days overdue = %d, want 20", m.OverdueList[0].DaysOverdue)
	}
}

func TestAnalyzeTasksOverdueListCapped(t *testing.T) {
	var tasks []task.Task
	for i := 1; i <= 15; i++ {
		tasks = append(tasks, task.Task{ID: fmt.Sprintf("t%d", i), DueDate: daysAgo(i)})
	}
	m := AnalyzeTasks(tasks, analyzeNow)
	if m.Overdue != 15 {
		t.Fatalf("overdue count = %d, want 15", m.Overdue)
	}
	if len(m.OverdueList) != 10 {
		t.Fatalf("listed = %d, want 10", len(m.OverdueList))
	}
	if m.OverdueList[0].DaysOverdue != 15 {
		t.Fatalf("worst listed = %d, want 15", m.OverdueList[0].DaysOverdue)
	}
}

func TestAnalyzeTasksEmpty(t *testing.T) {
	m := AnalyzeTasks(nil, analyzeNow)
	if m.Total != 0 || m.CompletionRate != 0 || m.AvgDaysOverdue != 0 {
		t.Fatalf("unexpected metrics for empty input: %+v", m)
	}
	if len(m.Assignees) != 0 {
		t.Fatalf("assignees = %v", m.Assignees)
	}
}

func TestAnalyzeTasksCompletedLateIsNotOverdue(t *testing.T) {
	tasks := []task.Task{
		{ID: "1", IsComplete: true, DueDate: daysAgo(10)},
	}
	m := AnalyzeTasks(tasks, analyzeNow)
	if m.Overdue != 0 {
		t.Fatalf("overdue = %d, want 0", m.Overdue)
	}
}
