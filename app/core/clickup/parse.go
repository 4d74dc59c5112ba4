package clickup

import (
	"time"

	"github.com/tidwall/gjson"

	"pulsedash/app/core/task"
)

// scoreOptions maps the sizing field's option UUIDs to point scores.
var scoreOptions = map[string]int{
	"86763539-3c8e-497a-8995-e4349917bc80": 1,
	"20341d9b-5f30-4d78-97c0-ad17a5f3a04c": 2,
	"5db17019-f2d7-417b-9cc5-fe727f3d29f1": 3,
	"8973f792-78cc-4fed-90f5-a88354fe881c": 5,
	"c57e955d-5247-494f-80e7-110e88ac5c89": 8,
	"ef195667-5b4f-4ae5-b878-7d55e0176fd3": 13,
}

// orderIndexToScore covers the second encoding the upstream uses for the same
// field: the option's order index instead of its UUID.
var orderIndexToScore = map[int64]int{
	0: 1,
	1: 2,
	2: 3,
	3: 5,
	4: 8,
	5: 13,
}

// CollectParentIDs returns the ids of every task that has at least one child
// in the given set. A parent is never materialized as a canonical task; its
// children carry the points.
func CollectParentIDs(rawTasks []gjson.Result) map[string]bool {
	parents := make(map[string]bool)
	for _, raw := range rawTasks {
		if parent := raw.Get("parent").String(); parent != "" {
			parents[parent] = true
		}
		subtasks := raw.Get("subtasks")
		if subtasks.IsArray() && len(subtasks.Array()) > 0 {
			parents[raw.Get("id").String()] = true
		} else if subtasks.Type == gjson.Number && subtasks.Int() > 0 {
			parents[raw.Get("id").String()] = true
		}
	}
	return parents
}

// ParseTask converts one raw upstream record into a canonical Task. ok=false
// means drop: the record is a parent whose children represent the work.
// Malformed fields degrade to zero values, never abort the record.
func ParseTask(raw gjson.Result, folderName, listName string, parents map[string]bool, scoreFieldID string) (task.Task, bool) {
	id := raw.Get("id").String()
	if parents[id] {
		return task.Task{}, false
	}

	t := task.Task{
		ID:          id,
		Name:        raw.Get("name").String(),
		Folder:      folderName,
		List:        listName,
		Score:       resolveScore(raw, scoreFieldID),
		Status:      raw.Get("status.status").String(),
		IsComplete:  raw.Get("status.type").String() == "closed",
		DateCreated: epochMillisField(raw, "date_created"),
		DateClosed:  epochMillisField(raw, "date_closed"),
		DueDate:     epochMillisField(raw, "due_date"),
		TimeSpentMS: raw.Get("time_spent").Int(),
		URL:         raw.Get("url").String(),
	}

	for _, a := range raw.Get("assignees").Array() {
		t.Assignees = append(t.Assignees, task.Assignee{
			ID:       a.Get("id").Int(),
			Username: a.Get("username").String(),
		})
	}

	return t, true
}

// resolveScore scans the custom fields for the sizing field and decodes its
// value. The value arrives as either an option UUID string or an integer
// order index; anything else stays unscored. First match wins.
func resolveScore(raw gjson.Result, scoreFieldID string) int {
	for _, cf := range raw.Get("custom_fields").Array() {
		if cf.Get("id").String() != scoreFieldID {
			continue
		}
		value := cf.Get("value")
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		switch value.Type {
		case gjson.String:
			return scoreOptions[value.Str]
		case gjson.Number:
			return orderIndexToScore[value.Int()]
		}
		return 0
	}
	return 0
}

// epochMillisField decodes an optional millisecond-epoch field; the upstream
// sends these as strings. Absent or unparseable stays nil.
func epochMillisField(raw gjson.Result, field string) *time.Time {
	v := raw.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	ms := v.Int()
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
