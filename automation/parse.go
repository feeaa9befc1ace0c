package automation

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// TestTypes are the category codes a generated test case may use.
var TestTypes = []string{"FUNCTIONAL", "PERFORMANCE", "SECURITY", "NEGATIVE", "VALIDATION"}

// GeneratedTestCase is a validated test case returned by the model.
type GeneratedTestCase struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
	Type           string   `json:"type"`
}

// GeneratedTask is a validated task returned by the model.
type GeneratedTask struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Assignee       string     `json:"assignee"`
	Priority       string     `json:"priority"`
	EstimatedHours float64    `json:"estimated_hours"`
	Labels         []string   `json:"labels"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// stripFences removes markdown code fences the model tends to wrap JSON in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func decodeItems(reply string) []map[string]any {
	var raw []any
	if err := json.Unmarshal([]byte(stripFences(reply)), &raw); err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func text(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func set(codes []string) map[string]bool {
	out := make(map[string]bool, len(codes))
	for _, c := range codes {
		out[c] = true
	}
	return out
}

// parseTestCases keeps the well formed items of a model reply. priorities are the accepted
// priority codes.
func parseTestCases(reply string, priorities []string) []GeneratedTestCase {
	validPriority := set(priorities)
	validType := set(TestTypes)
	var out []GeneratedTestCase
	for _, m := range decodeItems(reply) {
		title, ok1 := text(m, "title")
		desc, ok2 := text(m, "description")
		expected, ok3 := text(m, "expected_result")
		prio, ok4 := m["priority"].(string)
		typ, ok5 := m["type"].(string)
		steps, ok6 := m["steps"].([]any)
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) || len(steps) == 0 {
			continue
		}
		prio, typ = strings.ToUpper(strings.TrimSpace(prio)), strings.ToUpper(strings.TrimSpace(typ))
		if !validPriority[prio] || !validType[typ] {
			continue
		}
		tc := GeneratedTestCase{Title: title, Description: desc, ExpectedResult: expected, Priority: prio, Type: typ}
		for _, st := range steps {
			if s, ok := st.(string); ok {
				tc.Steps = append(tc.Steps, s)
			}
		}
		if len(tc.Steps) == 0 {
			continue
		}
		out = append(out, tc)
	}
	return out
}

// parseTasks keeps the well formed task items of a model reply. Due dates earlier than now
// are moved to now.
func parseTasks(reply string, priorities []string, now time.Time) []GeneratedTask {
	validPriority := set(priorities)
	var out []GeneratedTask
	for _, m := range decodeItems(reply) {
		title, ok1 := text(m, "title")
		desc, ok2 := text(m, "description")
		prio, ok3 := m["priority"].(string)
		hours, ok4 := m["estimated_hours"].(float64)
		labels, ok5 := m["labels"].([]any)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) || hours < 0 {
			continue
		}
		prio = strings.ToUpper(strings.TrimSpace(prio))
		if !validPriority[prio] {
			continue
		}
		t := GeneratedTask{Title: title, Description: desc, Priority: prio, EstimatedHours: hours, Labels: []string{}}
		for _, l := range labels {
			t.Labels = append(t.Labels, stringify(l))
		}
		t.Assignee, _ = m["assignee"].(string)
		if t.Assignee == "" {
			t.Assignee = "Unassigned"
		}
		if due, ok := m["due_date"].(string); ok {
			t.DueDate = parseDue(due, now)
		}
		out = append(out, t)
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// parseDue accepts RFC3339 or a bare date, which means the end of that day in UTC.
func parseDue(s string, now time.Time) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var due time.Time
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		due = t.UTC()
	} else if d, err := time.Parse("2006-01-02", s); err == nil {
		due = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC)
	} else {
		return nil
	}
	if due.Before(now) {
		due = now.UTC()
	}
	return &due
}
