package automation

import (
	"fmt"
	"strings"
	"time"
)

// TeamMember is offered to the model as a possible task assignee.
type TeamMember struct {
	Email string
	Role  string
}

// promptFunc renders one prompt strategy. Strategies are tried in order until one yields
// usable items.
type promptFunc func(story string, team []TeamMember, now time.Time) string

var testcasePrompts = []promptFunc{testcasePrompt, testcaseRetryPrompt, testcaseFinalPrompt}

var taskPrompts = []promptFunc{taskPrompt, taskRetryPrompt, taskFinalPrompt}

func testcasePrompt(story string, _ []TeamMember, _ time.Time) string {
	return fmt.Sprintf(`You are a senior QA engineer creating comprehensive test cases for a user story.

USER STORY:
%s

Generate appropriate test cases based on the complexity and scope of this user story. Consider:
- Positive/happy path scenarios
- Negative/error scenarios
- Edge cases and boundary conditions
- Security considerations if applicable
- Performance considerations if applicable

CRITICAL: Return ONLY a valid JSON array with this exact structure:
[
  {
    "title": "Clear test case title",
    "description": "Detailed description of what this test validates",
    "steps": ["Step 1 action", "Step 2 action", "Step 3 action"],
    "expected_result": "Clear expected outcome",
    "priority": "LOW|MEDIUM|HIGH|CRITICAL",
    "type": "FUNCTIONAL|PERFORMANCE|SECURITY|NEGATIVE|VALIDATION"
  }
]

IMPORTANT: Use EXACT priority values: LOW, MEDIUM, HIGH, CRITICAL
IMPORTANT: Use EXACT type values: FUNCTIONAL, PERFORMANCE, SECURITY, NEGATIVE, VALIDATION

Generate an appropriate number of test cases (typically 3-8 depending on complexity).
Ensure each test case is thorough, realistic, and covers different scenarios.
Return ONLY the JSON array, no other text.`, story)
}

func testcaseRetryPrompt(story string, _ []TeamMember, _ time.Time) string {
	return fmt.Sprintf(`Create test cases for this user story in JSON format:

USER STORY: %s

Return exactly this JSON structure with no extra text:
[
  {
    "title": "Test case name",
    "description": "What this test does",
    "steps": ["action 1", "action 2", "action 3"],
    "expected_result": "what should happen",
    "priority": "HIGH",
    "type": "FUNCTIONAL"
  }
]

Use priority: LOW, MEDIUM, HIGH, or CRITICAL
Use type: FUNCTIONAL, PERFORMANCE, SECURITY, NEGATIVE, or VALIDATION
Create 3-6 test cases covering main functionality and error cases.`, story)
}

func testcaseFinalPrompt(story string, _ []TeamMember, _ time.Time) string {
	return fmt.Sprintf(`JSON test cases for: %s

Format:
[{"title":"Basic Test","description":"Test description","steps":["step1","step2"],"expected_result":"result","priority":"HIGH","type":"FUNCTIONAL"}]

Return only JSON array.`, story)
}

func teamContext(team []TeamMember) string {
	if len(team) == 0 {
		return `
No team members are currently available in the system. Use "Unassigned" for all tasks.
`
	}
	lines := make([]string, 0, len(team))
	for _, m := range team {
		lines = append(lines, fmt.Sprintf("- %s (%s)", m.Email, m.Role))
	}
	return fmt.Sprintf(`
AVAILABLE TEAM MEMBERS FOR ASSIGNMENT:
%s

You can assign tasks to any of these team members by using their email address, or use "Unassigned" if no specific assignment is needed.
`, strings.Join(lines, "\n"))
}

func taskPrompt(story string, team []TeamMember, now time.Time) string {
	return fmt.Sprintf(`You are a senior project manager breaking down a user story into development tasks.

TODAY_UTC: %s
NEVER output a due_date earlier than TODAY_UTC.

USER STORY:
%s

%s

Create a comprehensive task breakdown covering the full development lifecycle. Consider:
- Backend API development
- Frontend UI implementation
- Database changes (if needed)
- Testing tasks (unit, integration)
- Documentation updates
- Code review and deployment tasks
- Security considerations
- Performance optimization (if applicable)

DUE DATE RULES:
- Choose realistic near-term target dates based on priority (no dates in the past):
  - CRITICAL: within 1-2 days
  - HIGH: within 3-5 days
  - MEDIUM: within 5-7 days
  - LOW: within 7-14 days
- Prefer ISO 8601 with timezone (e.g., "2025-09-05T17:00:00Z").
- If you only provide a date (YYYY-MM-DD), it will be treated as end-of-day.

CRITICAL: Return ONLY a valid JSON array with this exact structure:
[
  {
    "title": "Clear task title",
    "description": "Detailed task description with specific deliverables",
    "assignee": "user@example.com or Unassigned",
    "priority": "LOW|MEDIUM|HIGH|CRITICAL",
    "estimated_hours": 4.5,
    "labels": ["backend", "api", "development"],
    "due_date": "YYYY-MM-DD or ISO 8601 (e.g., 2025-09-05 or 2025-09-05T17:00:00Z)"
  }
]

IMPORTANT: Use EXACT priority values: LOW, MEDIUM, HIGH, CRITICAL
IMPORTANT: For assignee, use either an email from the available team members list above, or "Unassigned"

Generate an appropriate number of tasks (typically 4-10 depending on story complexity).
Estimate realistic hours for each task.
Use relevant labels like: backend, frontend, database, testing, documentation, security, etc.
Assign tasks to appropriate team members based on their roles and the task type.
Return ONLY the JSON array, no other text.`, now.UTC().Format(time.RFC3339), story, teamContext(team))
}

func taskRetryPrompt(story string, team []TeamMember, _ time.Time) string {
	assignees := "Use 'Unassigned' for assignee"
	if len(team) > 0 {
		emails := make([]string, 0, 5)
		for i, m := range team {
			if i == 5 {
				break
			}
			emails = append(emails, m.Email)
		}
		more := ""
		if len(team) > 5 {
			more = "..."
		}
		assignees = fmt.Sprintf("Available users: %s%s or use 'Unassigned'", strings.Join(emails, ", "), more)
	}
	return fmt.Sprintf(`Create development tasks for this user story in JSON format:

USER STORY: %s

%s

Return exactly this JSON structure with no extra text:
[
  {
    "title": "Task name",
    "description": "What needs to be done",
    "assignee": "user@example.com or Unassigned",
    "priority": "HIGH",
    "estimated_hours": 4.0,
    "labels": ["development", "backend"]
  }
]

Use priority: LOW, MEDIUM, HIGH, or CRITICAL
Create 4-8 tasks covering development, testing, and documentation.`, story, assignees)
}

func taskFinalPrompt(story string, _ []TeamMember, _ time.Time) string {
	return fmt.Sprintf(`JSON development tasks for: %s

Format:
[{"title":"Development Task","description":"Task description","assignee":"Unassigned","priority":"HIGH","estimated_hours":4.0,"labels":["development"]}]

Return only JSON array.`, story)
}
