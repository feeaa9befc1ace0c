package automation

import (
	"strings"
	"time"

	"github.com/adonese/bizpilot/fields"
)

// TestCaseView is the wire shape of a stored test case.
type TestCaseView struct {
	TestCaseID       int64                 `json:"test_case_id"`
	UserStoryID      int64                 `json:"user_story_id"`
	Title            string                `json:"test_case_title"`
	Description      string                `json:"test_case_description"`
	Steps            []string              `json:"test_case_steps"`
	ExpectedResult   string                `json:"test_case_expected_result"`
	PriorityID       *int64                `json:"test_case_priority_id"`
	TypeID           *int64                `json:"test_case_type_id"`
	StatusID         *int64                `json:"test_case_status_id"`
	Priority         *fields.Priority      `json:"priority"`
	TestType         *fields.Category      `json:"test_type"`
	Status           *fields.GeneralStatus `json:"status"`
	NotionPageID     *string               `json:"notion_page_id"`
	NotionSyncedAt   *string               `json:"notion_synced_at"`
	NotionSyncStatus string                `json:"notion_sync_status"`
	CreatedAt        string                `json:"test_case_created_at"`
	UpdatedAt        string                `json:"test_case_updated_at"`
}

// TaskView is the wire shape of a stored task. Labels are split back into a list.
type TaskView struct {
	TaskID           int64                 `json:"task_id"`
	UserStoryID      int64                 `json:"user_story_id"`
	Title            string                `json:"task_title"`
	Description      string                `json:"task_description"`
	AssigneeUserID   *int64                `json:"task_assignee_user_id"`
	PriorityID       *int64                `json:"task_priority_id"`
	StatusID         *int64                `json:"task_status_id"`
	EstimatedHours   float64               `json:"task_estimated_hours"`
	Labels           []string              `json:"task_labels"`
	Assignee         *fields.User          `json:"assignee"`
	Priority         *fields.Priority      `json:"priority"`
	Status           *fields.GeneralStatus `json:"status"`
	NotionPageID     *string               `json:"notion_page_id"`
	NotionSyncedAt   *string               `json:"notion_synced_at"`
	NotionSyncStatus string                `json:"notion_sync_status"`
	DueDate          *string               `json:"task_due_date"`
	CreatedAt        string                `json:"task_created_at"`
	UpdatedAt        string                `json:"task_updated_at"`
}

func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := iso(*t)
	return &s
}

func testCaseView(tc fields.TestCase) TestCaseView {
	steps := []string(tc.Steps)
	if steps == nil {
		steps = []string{}
	}
	return TestCaseView{
		TestCaseID:       tc.TestCaseID,
		UserStoryID:      tc.UserStoryID,
		Title:            tc.Title,
		Description:      tc.Description,
		Steps:            steps,
		ExpectedResult:   tc.ExpectedResult,
		PriorityID:       tc.PriorityID,
		TypeID:           tc.TypeID,
		StatusID:         tc.StatusID,
		Priority:         tc.Priority,
		TestType:         tc.Type,
		Status:           tc.Status,
		NotionPageID:     tc.NotionPageID,
		NotionSyncedAt:   isoPtr(tc.NotionSyncedAt),
		NotionSyncStatus: tc.NotionSyncStatus,
		CreatedAt:        iso(tc.CreatedAt),
		UpdatedAt:        iso(tc.UpdatedAt),
	}
}

func splitLabels(s string) []string {
	out := []string{}
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func taskView(t fields.Task) TaskView {
	return TaskView{
		TaskID:           t.TaskID,
		UserStoryID:      t.UserStoryID,
		Title:            t.Title,
		Description:      t.Description,
		AssigneeUserID:   t.AssigneeUserID,
		PriorityID:       t.PriorityID,
		StatusID:         t.StatusID,
		EstimatedHours:   t.EstimatedHours,
		Labels:           splitLabels(t.Labels),
		Assignee:         t.Assignee,
		Priority:         t.Priority,
		Status:           t.Status,
		NotionPageID:     t.NotionPageID,
		NotionSyncedAt:   isoPtr(t.NotionSyncedAt),
		NotionSyncStatus: t.NotionSyncStatus,
		DueDate:          isoPtr(t.DueDate),
		CreatedAt:        iso(t.CreatedAt),
		UpdatedAt:        iso(t.UpdatedAt),
	}
}

func testCaseViews(in []fields.TestCase) []TestCaseView {
	out := make([]TestCaseView, 0, len(in))
	for _, tc := range in {
		out = append(out, testCaseView(tc))
	}
	return out
}

func taskViews(in []fields.Task) []TaskView {
	out := make([]TaskView, 0, len(in))
	for _, t := range in {
		out = append(out, taskView(t))
	}
	return out
}
