package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var priorities = []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func TestParseTestCases(t *testing.T) {
	reply := "```json\n" + `[
		{"title":"Login works","description":"valid credentials","steps":["open","submit"],"expected_result":"dashboard","priority":"high","type":"functional"},
		{"title":"No steps","description":"d","steps":[],"expected_result":"r","priority":"LOW","type":"FUNCTIONAL"},
		{"title":"Bad type","description":"d","steps":["a"],"expected_result":"r","priority":"LOW","type":"USABILITY"},
		{"title":"Bad priority","description":"d","steps":["a"],"expected_result":"r","priority":"URGENT","type":"SECURITY"},
		"not an object"
	]` + "\n```"
	got := parseTestCases(reply, priorities)
	require.Len(t, got, 1)
	assert.Equal(t, "Login works", got[0].Title)
	assert.Equal(t, "HIGH", got[0].Priority)
	assert.Equal(t, "FUNCTIONAL", got[0].Type)
	assert.Equal(t, []string{"open", "submit"}, got[0].Steps)

	assert.Empty(t, parseTestCases("Sure! Here are your test cases.", priorities))
	assert.Empty(t, parseTestCases(`{"title":"object, not array"}`, priorities))
}

func TestParseTasks(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	reply := `[
		{"title":"API","description":"build endpoint","assignee":"dev@example.com","priority":"medium","estimated_hours":6,"labels":["backend",3],"due_date":"2025-09-05"},
		{"title":"Docs","description":"write docs","priority":"LOW","estimated_hours":1.5,"labels":[],"due_date":"2020-01-01T00:00:00Z"},
		{"title":"Negative","description":"d","priority":"LOW","estimated_hours":-1,"labels":[]},
		{"title":"Labels","description":"d","priority":"LOW","estimated_hours":1,"labels":"backend"},
		{"title":"Hours","description":"d","priority":"LOW","estimated_hours":"2","labels":[]}
	]`
	got := parseTasks(reply, priorities, now)
	require.Len(t, got, 2)

	api := got[0]
	assert.Equal(t, "MEDIUM", api.Priority)
	assert.Equal(t, "dev@example.com", api.Assignee)
	assert.Equal(t, []string{"backend", "3"}, api.Labels)
	require.NotNil(t, api.DueDate)
	assert.Equal(t, time.Date(2025, 9, 5, 23, 59, 59, 0, time.UTC), *api.DueDate)

	docs := got[1]
	assert.Equal(t, "Unassigned", docs.Assignee)
	require.NotNil(t, docs.DueDate)
	assert.Equal(t, now, *docs.DueDate, "past due dates are moved to now")
}

func TestParseDue(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"", nil},
		{"next week", nil},
		{"2025-09-03T17:00:00+02:00", ptrTime(time.Date(2025, 9, 3, 15, 0, 0, 0, time.UTC))},
		{"2025-09-01", ptrTime(time.Date(2025, 9, 1, 23, 59, 59, 0, time.UTC))},
		{"2025-08-31", ptrTime(now)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDue(tt.in, now))
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestTaskPrompts(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	team := []TeamMember{
		{"a@x.io", "QA"}, {"b@x.io", "Developer"}, {"c@x.io", "Developer"},
		{"d@x.io", "PM"}, {"e@x.io", "Developer"}, {"f@x.io", "Developer"},
	}
	first := taskPrompt("story", team, now)
	assert.Contains(t, first, "TODAY_UTC: 2025-09-01T10:00:00Z")
	assert.Contains(t, first, "- a@x.io (QA)")

	retry := taskRetryPrompt("story", team, now)
	assert.Contains(t, retry, "Available users: a@x.io, b@x.io, c@x.io, d@x.io, e@x.io... or use 'Unassigned'")
	assert.NotContains(t, retry, "f@x.io")

	assert.Contains(t, taskPrompt("story", nil, now), `Use "Unassigned" for all tasks`)
}
