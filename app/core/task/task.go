package task

import "time"

// ValidScores is the Fibonacci sizing scale used on the board.
var ValidScores = []int{1, 2, 3, 5, 8, 13}

type Assignee struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Task is the canonical normalized work item. Score 0 means the sizing field
// was absent or carried an unknown encoding; such tasks still count toward
// task totals but contribute zero points.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Folder      string     `json:"folder"`
	List        string     `json:"list"`
	Score       int        `json:"score"`
	Status      string     `json:"status"`
	IsComplete  bool       `json:"is_complete"`
	DateCreated *time.Time `json:"date_created"`
	DateClosed  *time.Time `json:"date_closed"`
	DueDate     *time.Time `json:"due_date"`
	Assignees   []Assignee `json:"assignees"`
	TimeSpentMS int64      `json:"time_spent_ms"`
	URL         string     `json:"url"`
}

// Hours converts manually logged time to hours.
func (t Task) Hours() float64 {
	return float64(t.TimeSpentMS) / (1000 * 60 * 60)
}

// HasAssignee reports whether the given member id appears on the task.
func (t Task) HasAssignee(id int64) bool {
	for _, a := range t.Assignees {
		if a.ID == id {
			return true
		}
	}
	return false
}

func IsValidScore(score int) bool {
	for _, s := range ValidScores {
		if s == score {
			return true
		}
	}
	return false
}
