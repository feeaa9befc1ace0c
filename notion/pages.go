package notion

import (
	"fmt"
	"strings"

	"github.com/adonese/bizpilot/fields"
	"github.com/tidwall/gjson"
)

// CleanID accepts a bare id or a Notion URL and returns the dashed 8-4-4-4-12 form when the id
// has 32 hex characters.
func CleanID(id string) string {
	if id == "" {
		return id
	}
	id = strings.SplitN(id, "?", 2)[0]
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	id = strings.ReplaceAll(id, "-", "")
	// page URLs carry a title slug before the id
	if len(id) > 32 && isHex(id[len(id)-32:]) {
		id = id[len(id)-32:]
	}
	if len(id) == 32 {
		id = id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:]
	}
	return id
}

func isHex(s string) bool {
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}

// PageURL links to a page in the Notion web app.
func PageURL(pageID string) string {
	return "https://notion.so/" + strings.ReplaceAll(pageID, "-", "")
}

func richText(s string) []map[string]any {
	return []map[string]any{{"type": "text", "text": map[string]any{"content": s}}}
}

func heading(level int, s string) map[string]any {
	kind := fmt.Sprintf("heading_%d", level)
	return map[string]any{"object": "block", "type": kind, kind: map[string]any{"rich_text": richText(s)}}
}

func selectOptions(pairs ...string) map[string]any {
	opts := make([]map[string]any, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		opts = append(opts, map[string]any{"name": pairs[i], "color": pairs[i+1]})
	}
	return map[string]any{"select": map[string]any{"options": opts}}
}

var prioritySelect = selectOptions("Low", "green", "Medium", "yellow", "High", "orange", "Critical", "red")

func storyPage(parentID string, storyID int64, title string) map[string]any {
	return map[string]any{
		"parent": map[string]any{"page_id": CleanID(parentID)},
		"properties": map[string]any{
			"title": richText(fmt.Sprintf("%d - %s", storyID, title)),
		},
		"children": []map[string]any{
			heading(1, fmt.Sprintf("User Story %d: %s", storyID, title)),
			heading(2, "Tasks"),
		},
	}
}

func tasksDatabase(pageID string) map[string]any {
	return map[string]any{
		"parent": map[string]any{"page_id": pageID},
		"title":  richText("Tasks"),
		"properties": map[string]any{
			"Title":           map[string]any{"title": map[string]any{}},
			"Description":     map[string]any{"rich_text": map[string]any{}},
			"Priority":        prioritySelect,
			"Status":          selectOptions("To Do", "default", "In Progress", "blue", "Done", "green", "Blocked", "red"),
			"Estimated Hours": map[string]any{"number": map[string]any{}},
			"Labels":          map[string]any{"multi_select": map[string]any{"options": []any{}}},
			"Assignee ID":     map[string]any{"number": map[string]any{}},
			"Assignee Email":  map[string]any{"email": map[string]any{}},
			"Assignee Name":   map[string]any{"rich_text": map[string]any{}},
			"Assignee Role":   map[string]any{"rich_text": map[string]any{}},
			"Created Date":    map[string]any{"created_time": map[string]any{}},
		},
	}
}

func testCasesDatabase(pageID string) map[string]any {
	return map[string]any{
		"parent": map[string]any{"page_id": pageID},
		"title":  richText("Test Cases"),
		"properties": map[string]any{
			"Title":           map[string]any{"title": map[string]any{}},
			"Description":     map[string]any{"rich_text": map[string]any{}},
			"Steps":           map[string]any{"rich_text": map[string]any{}},
			"Expected Result": map[string]any{"rich_text": map[string]any{}},
			"Priority":        prioritySelect,
			"Type": selectOptions("Functional", "blue", "Performance", "purple", "Security", "red",
				"Negative", "orange", "Validation", "green"),
			"Status":       selectOptions("Draft", "default", "Active", "blue", "Passed", "green", "Failed", "red"),
			"Created Date": map[string]any{"created_time": map[string]any{}},
		},
	}
}

// displayName turns john.doe@acme.com into John Doe.
func displayName(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return email
	}
	words := strings.Fields(strings.NewReplacer(".", " ", "_", " ").Replace(email[:at]))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func taskPage(databaseID string, storyID int64, t fields.Task, role string) map[string]any {
	props := map[string]any{
		"Title":           map[string]any{"title": richText(fmt.Sprintf("%d - Task: %s", storyID, t.Title))},
		"Description":     map[string]any{"rich_text": richText(t.Description)},
		"Estimated Hours": map[string]any{"number": t.EstimatedHours},
	}
	if t.Assignee != nil {
		props["Assignee ID"] = map[string]any{"number": t.Assignee.ID}
		props["Assignee Email"] = map[string]any{"email": t.Assignee.Email}
		props["Assignee Name"] = map[string]any{"rich_text": richText(displayName(t.Assignee.Email))}
		if role != "" {
			props["Assignee Role"] = map[string]any{"rich_text": richText(role)}
		}
	} else {
		props["Assignee Name"] = map[string]any{"rich_text": richText("Unassigned")}
	}
	if t.Priority != nil && t.Priority.PriorityName != "" {
		props["Priority"] = map[string]any{"select": map[string]any{"name": t.Priority.PriorityName}}
	}
	if t.Status != nil && t.Status.StatusName != "" {
		props["Status"] = map[string]any{"select": map[string]any{"name": t.Status.StatusName}}
	}
	var labels []map[string]any
	for _, l := range strings.Split(t.Labels, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, map[string]any{"name": l})
		}
	}
	if len(labels) > 0 {
		props["Labels"] = map[string]any{"multi_select": labels}
	}
	return map[string]any{"parent": map[string]any{"database_id": databaseID}, "properties": props}
}

// testCaseStatusNames maps stored status names onto the select options of the database.
var testCaseStatusNames = map[string]string{
	"PASSED":       "Passed",
	"FAILED":       "Failed",
	"BLOCKED":      "Blocked",
	"SKIPPED":      "Skipped",
	"NOT_EXECUTED": "Not Executed",
	"IN_PROGRESS":  "In Progress",
}

func testCasePage(databaseID string, storyID int64, tc fields.TestCase) map[string]any {
	steps := make([]string, 0, len(tc.Steps))
	for i, s := range tc.Steps {
		steps = append(steps, fmt.Sprintf("%d. %s", i+1, s))
	}
	props := map[string]any{
		"Title":           map[string]any{"title": richText(fmt.Sprintf("%d - TestCase: %s", storyID, tc.Title))},
		"Description":     map[string]any{"rich_text": richText(tc.Description)},
		"Steps":           map[string]any{"rich_text": richText(strings.Join(steps, "\n"))},
		"Expected Result": map[string]any{"rich_text": richText(tc.ExpectedResult)},
	}
	if tc.Priority != nil && tc.Priority.PriorityName != "" {
		props["Priority"] = map[string]any{"select": map[string]any{"name": tc.Priority.PriorityName}}
	}
	if tc.Type != nil && tc.Type.CtgryName != "" {
		props["Type"] = map[string]any{"select": map[string]any{"name": tc.Type.CtgryName}}
	}
	if tc.Status != nil && tc.Status.StatusName != "" {
		name := tc.Status.StatusName
		if mapped, ok := testCaseStatusNames[name]; ok {
			name = mapped
		}
		props["Status"] = map[string]any{"select": map[string]any{"name": name}}
	}
	return map[string]any{"parent": map[string]any{"database_id": databaseID}, "properties": props}
}

// TaskUpdate holds the task properties read back from a Notion page. Absent properties are nil.
type TaskUpdate struct {
	Title          *string  `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Status         *string  `json:"status,omitempty"`
	Priority       *string  `json:"priority,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Labels         []string `json:"labels,omitempty"`
}

// TestCaseUpdate holds the test case properties read back from a Notion page.
type TestCaseUpdate struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Steps          *string `json:"steps,omitempty"`
	ExpectedResult *string `json:"expected_result,omitempty"`
	Status         *string `json:"status,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	Type           *string `json:"type,omitempty"`
}

func firstText(props gjson.Result, name, kind string) *string {
	r := props.Get(gjson.Escape(name) + "." + kind + ".0.text.content")
	if !r.Exists() {
		return nil
	}
	s := r.String()
	return &s
}

func selectName(props gjson.Result, name string) *string {
	r := props.Get(gjson.Escape(name) + ".select.name")
	if !r.Exists() {
		return nil
	}
	s := r.String()
	return &s
}

func parseTaskPage(page gjson.Result) TaskUpdate {
	props := page.Get("properties")
	u := TaskUpdate{
		Title:       firstText(props, "Title", "title"),
		Description: firstText(props, "Description", "rich_text"),
		Status:      selectName(props, "Status"),
		Priority:    selectName(props, "Priority"),
	}
	if h := props.Get(gjson.Escape("Estimated Hours") + ".number"); h.Type == gjson.Number {
		v := h.Float()
		u.EstimatedHours = &v
	}
	for _, l := range props.Get("Labels.multi_select.#.name").Array() {
		u.Labels = append(u.Labels, l.String())
	}
	return u
}

func parseTestCasePage(page gjson.Result) TestCaseUpdate {
	props := page.Get("properties")
	return TestCaseUpdate{
		Title:          firstText(props, "Title", "title"),
		Description:    firstText(props, "Description", "rich_text"),
		Steps:          firstText(props, "Steps", "rich_text"),
		ExpectedResult: firstText(props, "Expected Result", "rich_text"),
		Status:         selectName(props, "Status"),
		Priority:       selectName(props, "Priority"),
		Type:           selectName(props, "Type"),
	}
}

// stripTitle removes the "<story> - Task: " prefix added when the page was pushed.
func stripTitle(title string, storyID int64, kind string) string {
	return strings.TrimPrefix(title, fmt.Sprintf("%d - %s: ", storyID, kind))
}

// parseSteps splits numbered lines back into steps.
func parseSteps(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if dot := strings.Index(line, ". "); dot > 0 && strings.Trim(line[:dot], "0123456789") == "" {
			line = line[dot+2:]
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
