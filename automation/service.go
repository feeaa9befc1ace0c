// Package automation turns user stories into test cases and development tasks with the
// language model, and keeps the generated backlog queryable.
package automation

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var generations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bizpilot",
	Subsystem: "automation",
	Name:      "generations_total",
	Help:      "Backlog generation attempts by item kind and outcome",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(generations)
}

// Generator completes a prompt; *llm.Client implements it.
type Generator interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

var (
	ErrTestCasesFailed = apperr.New("testcase_generation_failed", http.StatusInternalServerError,
		"Failed to generate test cases after all retry attempts")
	ErrTasksFailed = apperr.New("task_generation_failed", http.StatusInternalServerError,
		"Failed to generate tasks after all retry attempts")
)

type Service struct {
	Repo   *Repo
	LLM    Generator
	Model  string
	Logger *logrus.Logger
	Now    func() time.Time
}

func New(repo *Repo, gen Generator, model string, logger *logrus.Logger) *Service {
	return &Service{Repo: repo, LLM: gen, Model: model, Logger: logger, Now: time.Now}
}

// CreateRequest is the body of the create endpoint.
type CreateRequest struct {
	UserStory string `json:"user_story"`
	Title     string `json:"title"`
	ComID     int64  `json:"com_id"`
}

func (r *CreateRequest) validate() error {
	r.UserStory, r.Title = strings.TrimSpace(r.UserStory), strings.TrimSpace(r.Title)
	switch {
	case r.UserStory == "" || r.Title == "":
		return apperr.Newf(apperr.ErrBadRequest, "user_story and title are required")
	case len(r.UserStory) < 10:
		return apperr.Newf(apperr.ErrBadRequest, "user_story must be at least 10 characters long")
	case len(r.Title) < 3:
		return apperr.Newf(apperr.ErrBadRequest, "title must be at least 3 characters long")
	}
	return nil
}

// Result is what a successful create returns.
type Result struct {
	UserStoryID int64          `json:"user_story_id"`
	TestCases   []TestCaseView `json:"testcases"`
	Tasks       []TaskView     `json:"tasks"`
}

// Create stores the story, generates its test cases and tasks, and saves them together. A failed
// generation is logged against the story and returned.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.ComID == 0 {
		req.ComID = fields.DefaultCompanyID
	}
	story := &fields.UserStory{Title: req.Title, Content: req.UserStory, ComID: req.ComID}
	if err := s.Repo.CreateStory(ctx, story); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not save user story")
	}
	log := s.Logger.WithFields(logrus.Fields{"user_story_id": story.UserStoryID, "com_id": req.ComID})
	start := s.Now()

	res, err := s.generate(ctx, story)
	elapsed := s.Now().Sub(start).Seconds()
	if err != nil {
		log.WithError(err).Error("backlog generation failed")
		if lerr := s.Repo.LogFailure(context.WithoutCancel(ctx), story.UserStoryID, apperr.Message(err), elapsed); lerr != nil {
			log.WithError(lerr).Warn("could not record failed generation")
		}
		return nil, err
	}
	log.WithFields(logrus.Fields{"testcases": len(res.TestCases), "tasks": len(res.Tasks)}).Info("backlog generated")
	return res, nil
}

func (s *Service) generate(ctx context.Context, story *fields.UserStory) (*Result, error) {
	prios, err := s.Repo.Priorities(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load priorities")
	}
	codes := make([]string, 0, len(prios))
	for _, p := range prios {
		codes = append(codes, p.PriorityCode)
	}
	team, err := s.Repo.Team(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load team members")
	}
	start := s.Now()

	var testcases []GeneratedTestCase
	s.attempt(ctx, "testcase", testcasePrompts, story.Content, team, func(reply string) bool {
		testcases = parseTestCases(reply, codes)
		return len(testcases) > 0
	})
	if len(testcases) == 0 {
		return nil, ErrTestCasesFailed
	}
	var tasks []GeneratedTask
	s.attempt(ctx, "task", taskPrompts, story.Content, team, func(reply string) bool {
		tasks = parseTasks(reply, codes, s.Now().UTC())
		return len(tasks) > 0
	})
	if len(tasks) == 0 {
		return nil, ErrTasksFailed
	}

	tcs, ts, err := s.Repo.SaveGenerated(ctx, story.UserStoryID, Generated{
		TestCases:      testcases,
		Tasks:          tasks,
		ProcessingTime: s.Now().Sub(start).Seconds(),
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not save generated items")
	}
	return &Result{UserStoryID: story.UserStoryID, TestCases: testCaseViews(tcs), Tasks: taskViews(ts)}, nil
}

// attempt runs the prompt strategies in order until accept reports usable items.
func (s *Service) attempt(ctx context.Context, kind string, prompts []promptFunc, story string,
	team []TeamMember, accept func(string) bool) {
	for i, prompt := range prompts {
		if ctx.Err() != nil {
			return
		}
		log := s.Logger.WithFields(logrus.Fields{"kind": kind, "strategy": i + 1})
		reply, err := s.LLM.Complete(ctx, prompt(story, team, s.Now().UTC()), s.Model)
		if err != nil {
			log.WithError(err).Warn("generation strategy failed")
			generations.WithLabelValues(kind, "error").Inc()
			continue
		}
		if accept(reply) {
			generations.WithLabelValues(kind, "ok").Inc()
			return
		}
		log.Warn("model reply had no usable items")
		generations.WithLabelValues(kind, "empty").Inc()
	}
}

var (
	errStoryNotFound     = apperr.Newf(apperr.ErrNotFound, "User story not found")
	errTestCasesNotFound = apperr.Newf(apperr.ErrNotFound, "No testcases found for this user story ID")
	errTasksNotFound     = apperr.Newf(apperr.ErrNotFound, "No tasks found for this user story ID")
)

func (s *Service) Story(ctx context.Context, id int64) (*fields.UserStory, error) {
	st, err := s.Repo.Story(ctx, id)
	if errors.Is(err, errNotFound) {
		return nil, errStoryNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load user story")
	}
	return st, nil
}

func (s *Service) TestCases(ctx context.Context, storyID int64) ([]TestCaseView, error) {
	rows, err := s.Repo.TestCases(ctx, storyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load test cases")
	}
	if len(rows) == 0 {
		return nil, errTestCasesNotFound
	}
	return testCaseViews(rows), nil
}

func (s *Service) Tasks(ctx context.Context, storyID int64) ([]TaskView, error) {
	rows, err := s.Repo.Tasks(ctx, storyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load tasks")
	}
	if len(rows) == 0 {
		return nil, errTasksNotFound
	}
	return taskViews(rows), nil
}

func (s *Service) History(ctx context.Context) ([]HistoryRow, error) {
	rows, err := s.Repo.History(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load history")
	}
	return rows, nil
}

func (s *Service) Search(ctx context.Context, term string) ([]fields.UserStory, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Search term 'q' is required")
	}
	if len(term) < 2 {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Search term must be at least 2 characters long")
	}
	rows, err := s.Repo.Search(ctx, term)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "search failed")
	}
	return rows, nil
}

// Dashboard reports totals, stories created in the last 30 days and the share of successful
// generations as a percentage.
func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	st, success, err := s.Repo.Dashboard(ctx, s.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load dashboard")
	}
	if st.TotalGenerations > 0 {
		st.SuccessRate = math.Round(float64(success)/float64(st.TotalGenerations)*10000) / 100
	}
	return st, nil
}

func (s *Service) Lookups(ctx context.Context) (*Lookups, error) {
	l, err := s.Repo.Lookups(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load lookups")
	}
	return l, nil
}
