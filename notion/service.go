// Package notion mirrors generated tasks and test cases into a company's Notion workspace and
// reads edits made there back into the database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

var pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bizpilot",
	Subsystem: "notion",
	Name:      "operations_total",
	Help:      "Notion pushes and syncs by item kind and outcome",
}, []string{"op", "kind", "outcome"})

func init() {
	prometheus.MustRegister(pushes)
}

type Service struct {
	Repo  *Repo
	Codec *store.TokenCodec
	// FallbackToken is used when a company has no Notion account.
	FallbackToken string
	BaseURL       string
	Logger        *logrus.Logger
	Now           func() time.Time
	// Backoff overrides the rate limit retry policy; tests shorten it.
	Backoff func() retry.Backoff
}

func New(repo *Repo, codec *store.TokenCodec, cfg fields.AppConfig, logger *logrus.Logger) *Service {
	return &Service{
		Repo:          repo,
		Codec:         codec,
		FallbackToken: cfg.NotionToken,
		BaseURL:       cfg.NotionBaseURL,
		Logger:        logger,
		Now:           time.Now,
	}
}

// session is the story being worked on and a client authorized for its company.
type session struct {
	story   *fields.UserStory
	account *fields.NotionAccount
	client  *Client
}

func notFound(format string, args ...any) error {
	return apperr.Newf(apperr.ErrNotFound, format, args...)
}

// apiFailure maps Notion errors onto response statuses, prefixing the message with the action.
func apiFailure(err error, action string) error {
	var ae *APIError
	if errors.As(err, &ae) {
		switch ae.Status {
		case http.StatusUnauthorized:
			return apperr.Wrap(err, apperr.ErrNotionAuth, action+": "+err.Error())
		case http.StatusTooManyRequests:
			return apperr.Wrap(err, apperr.ErrNotionLimit, apperr.ErrNotionLimit.Message)
		}
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(err, apperr.ErrUpstream, action+": "+err.Error())
}

func (s *Service) token(account *fields.NotionAccount) (string, error) {
	if account == nil {
		return s.FallbackToken, nil
	}
	return s.Codec.Decode(account.NotionToken)
}

func (s *Service) open(ctx context.Context, storyID int64) (*session, error) {
	story, err := s.Repo.Story(ctx, storyID)
	if errors.Is(err, errNoRow) {
		return nil, notFound("User story with ID %d not found", storyID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load user story")
	}
	sess := &session{story: story}
	sess.account, err = s.Repo.Account(ctx, story.ComID)
	if err != nil && !errors.Is(err, errNoRow) {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load Notion account")
	}
	token, err := s.token(sess.account)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrNotionAuth, "stored Notion token cannot be read")
	}
	if token == "" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "No active Notion configuration found for company %d", story.ComID)
	}
	if !store.ValidToken(token) {
		s.Logger.WithField("com_id", story.ComID).Warn("notion token looks malformed")
	}
	sess.client = NewClient(s.BaseURL, token, s.Logger, s.Backoff)
	return sess, nil
}

// storyDatabases returns the story page and its task and test case databases, creating all
// three on first use.
func (s *Service) storyDatabases(ctx context.Context, sess *session) (tasksDB, testcasesDB string, err error) {
	st := sess.story
	if st.NotionTaskPageID != nil && st.NotionTaskDatabaseID != nil && st.NotionTestcaseDatabaseID != nil {
		return *st.NotionTaskDatabaseID, *st.NotionTestcaseDatabaseID, nil
	}
	if sess.account == nil || sess.account.NotionParentPageID == "" {
		return "", "", apperr.Newf(apperr.ErrBadRequest,
			"Parent page ID is required. Configure a Notion account for company %d", st.ComID)
	}
	log := s.Logger.WithField("user_story_id", st.UserStoryID)
	log.Info("creating notion page for user story")

	pageID, err := sess.client.CreatePage(ctx, storyPage(sess.account.NotionParentPageID, st.UserStoryID, st.Title))
	if err != nil {
		return "", "", err
	}
	if tasksDB, err = sess.client.CreateDatabase(ctx, tasksDatabase(pageID)); err != nil {
		return "", "", err
	}
	if err = sess.client.AppendBlocks(ctx, pageID, []map[string]any{heading(2, "Test Cases")}); err != nil {
		return "", "", err
	}
	if testcasesDB, err = sess.client.CreateDatabase(ctx, testCasesDatabase(pageID)); err != nil {
		return "", "", err
	}
	if err = s.Repo.SetStoryPages(ctx, st.UserStoryID, pageID, tasksDB, testcasesDB); err != nil {
		return "", "", apperr.Wrap(err, apperr.ErrDatabase, "could not store Notion ids")
	}
	st.NotionTaskPageID, st.NotionTaskDatabaseID, st.NotionTestcaseDatabaseID = &pageID, &tasksDB, &testcasesDB
	log.WithFields(logrus.Fields{"page_id": pageID, "tasks_db": tasksDB, "testcases_db": testcasesDB}).Info("notion page created")
	return tasksDB, testcasesDB, nil
}

// PushResult describes one item mirrored into Notion.
type PushResult struct {
	ID           int64  `json:"-"`
	Created      bool   `json:"-"`
	Message      string `json:"message"`
	NotionPageID string `json:"notion_page_id"`
	NotionURL    string `json:"notion_url"`
}

func (s *Service) task(ctx context.Context, storyID, taskID int64) (*fields.Task, error) {
	t, err := s.Repo.Task(ctx, taskID)
	if errors.Is(err, errNoRow) {
		return nil, notFound("Task with ID %d not found", taskID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load task")
	}
	if t.UserStoryID != storyID {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Task %d does not belong to user story %d", taskID, storyID)
	}
	return t, nil
}

func (s *Service) testCase(ctx context.Context, storyID, tcID int64) (*fields.TestCase, error) {
	tc, err := s.Repo.TestCase(ctx, tcID)
	if errors.Is(err, errNoRow) {
		return nil, notFound("Test case with ID %d not found", tcID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load test case")
	}
	if tc.UserStoryID != storyID {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Test case %d does not belong to user story %d", tcID, storyID)
	}
	return tc, nil
}

func (s *Service) pushTask(ctx context.Context, sess *session, t *fields.Task) (*PushResult, error) {
	if t.NotionPageID != nil && *t.NotionPageID != "" {
		return &PushResult{ID: t.TaskID, Message: "Task already exists in Notion",
			NotionPageID: *t.NotionPageID, NotionURL: PageURL(*t.NotionPageID)}, nil
	}
	tasksDB, _, err := s.storyDatabases(ctx, sess)
	if err != nil {
		return nil, err
	}
	role := ""
	if t.Assignee != nil {
		if role, err = s.Repo.Role(ctx, t.Assignee.ID, sess.story.ComID); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load assignee role")
		}
	}
	pageID, err := sess.client.CreatePage(ctx, taskPage(tasksDB, sess.story.UserStoryID, *t, role))
	if err != nil {
		pushes.WithLabelValues("push", "task", "error").Inc()
		if merr := s.Repo.MarkTaskFailed(ctx, t.TaskID); merr != nil {
			s.Logger.WithError(merr).Warn("could not mark task sync failure")
		}
		return nil, err
	}
	if err := s.Repo.SetTaskPage(ctx, t.TaskID, pageID, s.Now().UTC()); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not store Notion page id")
	}
	pushes.WithLabelValues("push", "task", "ok").Inc()
	return &PushResult{ID: t.TaskID, Created: true, Message: "Task successfully created in Notion",
		NotionPageID: pageID, NotionURL: PageURL(pageID)}, nil
}

func (s *Service) pushTestCase(ctx context.Context, sess *session, tc *fields.TestCase) (*PushResult, error) {
	if tc.NotionPageID != nil && *tc.NotionPageID != "" {
		return &PushResult{ID: tc.TestCaseID, Message: "Test case already exists in Notion",
			NotionPageID: *tc.NotionPageID, NotionURL: PageURL(*tc.NotionPageID)}, nil
	}
	_, testcasesDB, err := s.storyDatabases(ctx, sess)
	if err != nil {
		return nil, err
	}
	pageID, err := sess.client.CreatePage(ctx, testCasePage(testcasesDB, sess.story.UserStoryID, *tc))
	if err != nil {
		pushes.WithLabelValues("push", "testcase", "error").Inc()
		if merr := s.Repo.MarkTestCaseFailed(ctx, tc.TestCaseID); merr != nil {
			s.Logger.WithError(merr).Warn("could not mark test case sync failure")
		}
		return nil, err
	}
	if err := s.Repo.SetTestCasePage(ctx, tc.TestCaseID, pageID, s.Now().UTC()); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not store Notion page id")
	}
	pushes.WithLabelValues("push", "testcase", "ok").Inc()
	return &PushResult{ID: tc.TestCaseID, Created: true, Message: "Test case successfully created in Notion",
		NotionPageID: pageID, NotionURL: PageURL(pageID)}, nil
}

// PushTask creates the Notion page of one task. An already linked task is reported, not
// duplicated.
func (s *Service) PushTask(ctx context.Context, storyID, taskID int64) (*PushResult, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, err
	}
	t, err := s.task(ctx, storyID, taskID)
	if err != nil {
		return nil, err
	}
	res, err := s.pushTask(ctx, sess, t)
	if err != nil {
		return nil, apiFailure(err, "Failed to create task in Notion")
	}
	return res, nil
}

func (s *Service) PushTestCase(ctx context.Context, storyID, tcID int64) (*PushResult, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, err
	}
	tc, err := s.testCase(ctx, storyID, tcID)
	if err != nil {
		return nil, err
	}
	res, err := s.pushTestCase(ctx, sess, tc)
	if err != nil {
		return nil, apiFailure(err, "Failed to create test case in Notion")
	}
	return res, nil
}

// BulkItem is the outcome for one item of a bulk push.
type BulkItem struct {
	ID           int64  `json:"-"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	NotionPageID string `json:"notion_page_id,omitempty"`
	NotionURL    string `json:"notion_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

type BulkResult struct {
	Total        int        `json:"-"`
	SuccessCount int        `json:"success_count"`
	ErrorCount   int        `json:"error_count"`
	Results      []BulkItem `json:"results"`
}

func (b *BulkResult) add(id int64, res *PushResult, err error) {
	switch {
	case err != nil:
		b.ErrorCount++
		b.Results = append(b.Results, BulkItem{ID: id, Status: "error", Error: apperr.Message(err)})
	case !res.Created:
		b.Results = append(b.Results, BulkItem{ID: id, Status: "skipped", Message: res.Message, NotionURL: res.NotionURL})
	default:
		b.SuccessCount++
		b.Results = append(b.Results, BulkItem{ID: id, Status: "created", NotionPageID: res.NotionPageID, NotionURL: res.NotionURL})
	}
}

// PushAllTasks pushes every task of a story, continuing past individual failures.
func (s *Service) PushAllTasks(ctx context.Context, storyID int64) (*BulkResult, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.Repo.Tasks(ctx, storyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load tasks")
	}
	if len(tasks) == 0 {
		return nil, notFound("No tasks found for user story %d", storyID)
	}
	out := &BulkResult{Total: len(tasks), Results: []BulkItem{}}
	for i := range tasks {
		res, err := s.pushTask(ctx, sess, &tasks[i])
		if err != nil {
			s.Logger.WithError(err).WithField("task_id", tasks[i].TaskID).Error("notion task push failed")
		}
		out.add(tasks[i].TaskID, res, err)
	}
	return out, nil
}

func (s *Service) PushAllTestCases(ctx context.Context, storyID int64) (*BulkResult, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, err
	}
	tcs, err := s.Repo.TestCases(ctx, storyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load test cases")
	}
	if len(tcs) == 0 {
		return nil, notFound("No test cases found for user story %d", storyID)
	}
	out := &BulkResult{Total: len(tcs), Results: []BulkItem{}}
	for i := range tcs {
		res, err := s.pushTestCase(ctx, sess, &tcs[i])
		if err != nil {
			s.Logger.WithError(err).WithField("test_case_id", tcs[i].TestCaseID).Error("notion test case push failed")
		}
		out.add(tcs[i].TestCaseID, res, err)
	}
	return out, nil
}

// SyncTask reads the task's Notion page and applies its properties locally.
func (s *Service) SyncTask(ctx context.Context, storyID, taskID int64) (*TaskUpdate, *fields.Task, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.task(ctx, storyID, taskID)
	if err != nil {
		return nil, nil, err
	}
	if t.NotionPageID == nil || *t.NotionPageID == "" {
		return nil, nil, apperr.Newf(apperr.ErrBadRequest,
			"Task does not have an associated Notion page. Create it in Notion first using the create endpoint.")
	}
	page, err := sess.client.Page(ctx, *t.NotionPageID)
	if err != nil {
		pushes.WithLabelValues("sync", "task", "error").Inc()
		return nil, nil, apiFailure(err, "Failed to sync task from Notion")
	}
	u := parseTaskPage(page)
	if err := s.Repo.ApplyTaskUpdate(ctx, t, u, s.Now().UTC()); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not apply Notion changes")
	}
	pushes.WithLabelValues("sync", "task", "ok").Inc()
	updated, err := s.Repo.Task(ctx, taskID)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not reload task")
	}
	return &u, updated, nil
}

func (s *Service) SyncTestCase(ctx context.Context, storyID, tcID int64) (*TestCaseUpdate, *fields.TestCase, error) {
	sess, err := s.open(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	tc, err := s.testCase(ctx, storyID, tcID)
	if err != nil {
		return nil, nil, err
	}
	if tc.NotionPageID == nil || *tc.NotionPageID == "" {
		return nil, nil, apperr.Newf(apperr.ErrBadRequest,
			"Test case does not have an associated Notion page. Create it in Notion first using the create endpoint.")
	}
	page, err := sess.client.Page(ctx, *tc.NotionPageID)
	if err != nil {
		pushes.WithLabelValues("sync", "testcase", "error").Inc()
		return nil, nil, apiFailure(err, "Failed to sync test case from Notion")
	}
	u := parseTestCasePage(page)
	if err := s.Repo.ApplyTestCaseUpdate(ctx, tc, u, s.Now().UTC()); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not apply Notion changes")
	}
	pushes.WithLabelValues("sync", "testcase", "ok").Inc()
	updated, err := s.Repo.TestCase(ctx, tcID)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not reload test case")
	}
	return &u, updated, nil
}

// Validation is the outcome of checking a token against /users/me.
type Validation struct {
	Valid       bool   `json:"valid"`
	TokenLength int    `json:"token_length,omitempty"`
	BotName     string `json:"bot_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Service) validate(ctx context.Context, storyComID int64) (*Validation, error) {
	account, err := s.Repo.Account(ctx, storyComID)
	if errors.Is(err, errNoRow) {
		return &Validation{Error: "No Notion configuration found"}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load Notion account")
	}
	token, err := s.token(account)
	if err != nil {
		return &Validation{Error: err.Error()}, nil
	}
	me, err := NewClient(s.BaseURL, token, s.Logger, s.Backoff).Me(ctx)
	if err != nil {
		return &Validation{Error: err.Error()}, nil
	}
	return &Validation{Valid: true, TokenLength: len(token), BotName: me.Get("name").String()}, nil
}

// ValidateToken checks the Notion token of the story's company.
func (s *Service) ValidateToken(ctx context.Context, storyID int64) (*fields.UserStory, *Validation, error) {
	story, err := s.Repo.Story(ctx, storyID)
	if errors.Is(err, errNoRow) {
		return nil, nil, notFound("User story with ID %d not found", storyID)
	}
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load user story")
	}
	v, err := s.validate(ctx, story.ComID)
	return story, v, err
}

// UpdateToken replaces the stored token of the story's company and validates the new one.
func (s *Service) UpdateToken(ctx context.Context, storyID int64, token string) (*fields.UserStory, *Validation, error) {
	story, err := s.Repo.Story(ctx, storyID)
	if errors.Is(err, errNoRow) {
		return nil, nil, notFound("User story with ID %d not found", storyID)
	}
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load user story")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, apperr.Newf(apperr.ErrBadRequest, "new_token is required in request body")
	}
	account, err := s.Repo.Account(ctx, story.ComID)
	if errors.Is(err, errNoRow) {
		return nil, nil, notFound("Failed to update token - no active Notion account found")
	}
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load Notion account")
	}
	encoded, err := s.Codec.Encode(token)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrInternal, fmt.Sprintf("could not encode token: %v", err))
	}
	if err := s.Repo.SetToken(ctx, account.NotionID, encoded); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not store token")
	}
	s.Logger.WithField("com_id", story.ComID).Info("notion token updated")
	v, err := s.validate(ctx, story.ComID)
	return story, v, err
}
