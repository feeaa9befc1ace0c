package notion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/adonese/bizpilot/store/storetest"
	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const testToken = "secret_0123456789abcdefghijklmnop"

var fixedNow = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

// fakeNotion is a minimal stand-in for the Notion REST API.
type fakeNotion struct {
	mu         sync.Mutex
	calls      []string
	storyPages int
	pages      int
	// rateLimit answers this many requests with 429 before serving normally.
	rateLimit int
	page      string
}

func (f *fakeNotion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer "+testToken || r.Header.Get("Notion-Version") != apiVersion {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"unauthorized","message":"API token is invalid."}`)
		return
	}
	if f.rateLimit > 0 {
		f.rateLimit--
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"code":"rate_limited","message":"slow down"}`)
		return
	}
	body, _ := io.ReadAll(r.Body)
	req := gjson.ParseBytes(body)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/pages":
		if req.Get("parent.page_id").Exists() {
			f.storyPages++
			_, _ = io.WriteString(w, `{"id":"story-page"}`)
			return
		}
		if strings.Contains(req.Get("properties.Title.title.0.text.content").String(), "Broken") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":"validation_error","message":"Status is not a property that exists."}`)
			return
		}
		f.pages++
		_, _ = io.WriteString(w, `{"id":"item-page-`+strconv.Itoa(f.pages)+`"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/databases":
		if req.Get("title.0.text.content").String() == "Tasks" {
			_, _ = io.WriteString(w, `{"id":"tasks-db"}`)
		} else {
			_, _ = io.WriteString(w, `{"id":"testcases-db"}`)
		}
	case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/children"):
		_, _ = io.WriteString(w, `{"results":[]}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/pages/"):
		_, _ = io.WriteString(w, f.page)
	case r.Method == http.MethodGet && r.URL.Path == "/users/me":
		_, _ = io.WriteString(w, `{"object":"user","name":"Backlog Bot"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"object_not_found","message":"nope"}`)
	}
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	api   *fakeNotion
	story fields.UserStory
	tasks []fields.Task
}

func lookupID(t *testing.T, db *gorm.DB, model any, col, where string, args ...any) *int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, db.Model(model).Where(where, args...).Pluck(col, &ids).Error)
	require.Len(t, ids, 1)
	return &ids[0]
}

func newFixture(t *testing.T, withAccount bool, taskTitles ...string) *fixture {
	t.Helper()
	st := storetest.New(t)
	db := storetest.Gorm(t, st)
	codec, err := store.NewTokenCodec("test-key")
	require.NoError(t, err)

	story := fields.UserStory{Title: "Card checkout", Content: "As a shopper I want to pay by card", ComID: fields.DefaultCompanyID}
	require.NoError(t, db.Create(&story).Error)
	dev := fields.User{Email: "john.doe@example.com", CreatedAt: fixedNow}
	require.NoError(t, db.Create(&dev).Error)
	require.NoError(t, db.Create(&fields.UserDetail{UserID: dev.ID, ComID: fields.DefaultCompanyID, UserRole: "QA", IsActive: true}).Error)

	high := lookupID(t, db, &fields.Priority{}, "priority_id", "priority_code = ?", "HIGH")
	todo := lookupID(t, db, &fields.GeneralStatus{}, "status_id", "status_code = ? AND status_category = ?", "TODO", "task")
	var tasks []fields.Task
	for i, title := range taskTitles {
		task := fields.Task{UserStoryID: story.UserStoryID, Title: title, Description: "do " + title,
			PriorityID: high, StatusID: todo, EstimatedHours: 4, Labels: "backend,api", NotionSyncStatus: fields.NotionPending}
		if i == 0 {
			task.AssigneeUserID = &dev.ID
		}
		require.NoError(t, db.Omit("Assignee", "Priority", "Status").Create(&task).Error)
		tasks = append(tasks, task)
	}
	if withAccount {
		enc, err := codec.Encode(testToken)
		require.NoError(t, err)
		require.NoError(t, db.Create(&fields.NotionAccount{ComID: fields.DefaultCompanyID, NotionToken: enc,
			NotionParentPageID: "https://www.notion.so/Workspace-0123456789abcdef0123456789abcdef?pvs=4", IsActive: true}).Error)
	}

	api := &fakeNotion{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := &Service{
		Repo:    &Repo{DB: db},
		Codec:   codec,
		BaseURL: srv.URL,
		Logger:  logger,
		Now:     func() time.Time { return fixedNow },
		Backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
		},
	}
	return &fixture{svc: svc, db: db, api: api, story: story, tasks: tasks}
}

func TestCleanID(t *testing.T) {
	const dashed = "01234567-89ab-cdef-0123-456789abcdef"
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"0123456789abcdef0123456789abcdef", dashed},
		{dashed, dashed},
		{"https://www.notion.so/0123456789abcdef0123456789abcdef?v=1", dashed},
		{"https://www.notion.so/Team-Wiki-0123456789abcdef0123456789abcdef?pvs=4", dashed},
		{"short-id", "shortid"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanID(tt.in), tt.in)
	}
	assert.Equal(t, "https://notion.so/0123456789abcdef0123456789abcdef", PageURL(dashed))
}

func TestPushTaskCreatesStoryPageOnce(t *testing.T) {
	f := newFixture(t, true, "Payment API", "Checkout page")
	ctx := context.Background()

	res, err := f.svc.PushTask(ctx, f.story.UserStoryID, f.tasks[0].TaskID)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "item-page-1", res.NotionPageID)

	res, err = f.svc.PushTask(ctx, f.story.UserStoryID, f.tasks[1].TaskID)
	require.NoError(t, err)
	assert.Equal(t, "item-page-2", res.NotionPageID)
	assert.Equal(t, 1, f.api.storyPages, "the story page is reused")

	again, err := f.svc.PushTask(ctx, f.story.UserStoryID, f.tasks[0].TaskID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, "Task already exists in Notion", again.Message)

	var story fields.UserStory
	require.NoError(t, f.db.First(&story, "user_story_id = ?", f.story.UserStoryID).Error)
	require.NotNil(t, story.NotionTaskDatabaseID)
	assert.Equal(t, "tasks-db", *story.NotionTaskDatabaseID)
	assert.Equal(t, "testcases-db", *story.NotionTestcaseDatabaseID)

	var task fields.Task
	require.NoError(t, f.db.First(&task, "task_id = ?", f.tasks[0].TaskID).Error)
	assert.Equal(t, fields.NotionSynced, task.NotionSyncStatus)
}

func TestTaskPageProperties(t *testing.T) {
	task := fields.Task{
		Title:    "Payment API", Description: "card endpoint", EstimatedHours: 6, Labels: "backend, api,",
		Assignee: &fields.User{ID: 7, Email: "john.doe@example.com"},
		Priority: &fields.Priority{PriorityName: "High"},
		Status:   &fields.GeneralStatus{StatusName: "To Do"},
	}
	raw, err := json.Marshal(taskPage("db", 12, task, "QA"))
	require.NoError(t, err)
	page := gjson.ParseBytes(raw)
	assert.Equal(t, "12 - Task: Payment API", page.Get("properties.Title.title.0.text.content").String())
	assert.Equal(t, "John Doe", page.Get("properties.Assignee Name.rich_text.0.text.content").String())
	assert.Equal(t, "QA", page.Get("properties.Assignee Role.rich_text.0.text.content").String())
	assert.Equal(t, int64(7), page.Get("properties.Assignee ID.number").Int())
	assert.Equal(t, "High", page.Get("properties.Priority.select.name").String())
	assert.Equal(t, []string{"backend", "api"}, names(page.Get("properties.Labels.multi_select.#.name")))
}

func names(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func TestSyncTaskAppliesNotionEdits(t *testing.T) {
	f := newFixture(t, true, "Payment API")
	f.api.page = `{"id":"item-page-1","properties":{
		"Title":{"title":[{"text":{"content":"` + fmt.Sprintf("%d - Task: Payment API v2", f.story.UserStoryID) + `"}}]},
		"Description":{"rich_text":[{"text":{"content":"card and wallet"}}]},
		"Status":{"select":{"name":"Done"}},
		"Priority":{"select":{"name":"Critical"}},
		"Estimated Hours":{"number":3.5},
		"Labels":{"multi_select":[{"name":"backend"},{"name":"payments"}]}}}`
	pageID := "item-page-1"
	require.NoError(t, f.db.Model(&fields.Task{}).Where("task_id = ?", f.tasks[0].TaskID).
		Update("notion_page_id", pageID).Error)

	data, updated, err := f.svc.SyncTask(context.Background(), f.story.UserStoryID, f.tasks[0].TaskID)
	require.NoError(t, err)
	require.NotNil(t, data.Status)
	assert.Equal(t, "Done", *data.Status)

	assert.Equal(t, "Payment API v2", updated.Title)
	assert.Equal(t, "card and wallet", updated.Description)
	assert.Equal(t, 3.5, updated.EstimatedHours)
	assert.Equal(t, "backend,payments", updated.Labels)
	require.NotNil(t, updated.Status)
	assert.Equal(t, "DONE", updated.Status.StatusCode)
	require.NotNil(t, updated.Priority)
	assert.Equal(t, "CRITICAL", updated.Priority.PriorityCode)
	assert.Equal(t, fields.NotionSynced, updated.NotionSyncStatus)
}

func TestSyncWithoutPage(t *testing.T) {
	f := newFixture(t, true, "Payment API")
	_, _, err := f.svc.SyncTask(context.Background(), f.story.UserStoryID, f.tasks[0].TaskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not have an associated Notion page")
}

func TestTokenValidationRetriesRateLimit(t *testing.T) {
	f := newFixture(t, true)
	f.api.rateLimit = 2

	_, v, err := f.svc.ValidateToken(context.Background(), f.story.UserStoryID)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "Backlog Bot", v.BotName)
	assert.Len(t, f.api.calls, 3)

	f.api.rateLimit = 5
	_, v, err = f.svc.ValidateToken(context.Background(), f.story.UserStoryID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Error, "rate_limited")
}

func TestUpdateToken(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, _, err := f.svc.UpdateToken(ctx, f.story.UserStoryID, "  ")
	require.Error(t, err)
	assert.Equal(t, "new_token is required in request body", err.Error())

	_, v, err := f.svc.UpdateToken(ctx, f.story.UserStoryID, "secret_wrong_token_value_123")
	require.NoError(t, err)
	assert.False(t, v.Valid, "the fake API only accepts the original token")

	var acc fields.NotionAccount
	require.NoError(t, f.db.First(&acc).Error)
	assert.True(t, strings.HasPrefix(acc.NotionToken, "enc:"))
	plain, err := f.svc.Codec.Decode(acc.NotionToken)
	require.NoError(t, err)
	assert.Equal(t, "secret_wrong_token_value_123", plain)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, true, "Payment API", "Broken task")
	app := fiber.New()
	f.svc.Mount(app.Group("/api/notion"), nil)

	do := func(method, path string) (int, map[string]any) {
		resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	base := fmt.Sprintf("/api/notion/%d", f.story.UserStoryID)
	code, body := do(http.MethodPost, base+"/tasks")
	assert.Equal(t, http.StatusMultiStatus, code)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 1, body["success_count"])
	assert.EqualValues(t, 1, body["error_count"])
	assert.Equal(t, "Bulk task creation completed. 1 created, 1 failed", body["message"])

	code, body = do(http.MethodPost, "/api/notion/9999/tasks")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User story with ID 9999 not found", body["error"])

	code, _ = do(http.MethodPost, base+"/testcases")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(http.MethodGet, base+"/token/validate")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["validation_result"].(map[string]any)["valid"])
}

func TestNoAccountNoFallback(t *testing.T) {
	f := newFixture(t, false, "Payment API")
	_, err := f.svc.PushTask(context.Background(), f.story.UserStoryID, f.tasks[0].TaskID)
	require.Error(t, err)
	assert.Equal(t, "No active Notion configuration found for company 1", err.Error())

	f.svc.FallbackToken = testToken
	_, err = f.svc.PushTask(context.Background(), f.story.UserStoryID, f.tasks[0].TaskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parent page ID is required")
}
