package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/adonese/bizpilot/fields"
	"gorm.io/gorm"
)

// Lookup category and status codes written by the generator.
const (
	statusCategoryTestcase   = "testcase"
	statusCategoryTask       = "task"
	statusCategoryGeneration = "generation"

	logTypeComplete = "COMPLETE"
	statusSuccess   = "SUCCESS"
	statusFailed    = "FAILED"
)

var errNotFound = errors.New("not found")

// Repo is the gorm-backed persistence of user stories and their generated items.
type Repo struct {
	DB *gorm.DB
}

// Lookups are the active lookup rows shown in the UI dropdowns.
type Lookups struct {
	Priorities   []fields.Priority      `json:"priorities"`
	TestStatuses []fields.GeneralStatus `json:"test_statuses"`
	TaskStatuses []fields.GeneralStatus `json:"task_statuses"`
	Categories   []fields.Category      `json:"categories"`
}

func (r *Repo) Priorities(ctx context.Context) ([]fields.Priority, error) {
	var out []fields.Priority
	err := r.DB.WithContext(ctx).Where("priority_is_active = ?", true).Order("priority_level").Find(&out).Error
	return out, err
}

func (r *Repo) Lookups(ctx context.Context) (*Lookups, error) {
	db := r.DB.WithContext(ctx)
	l := &Lookups{}
	var err error
	if l.Priorities, err = r.Priorities(ctx); err != nil {
		return nil, err
	}
	if err := db.Where("status_category = ? AND status_is_active = ?", statusCategoryTestcase, true).
		Order("status_id").Find(&l.TestStatuses).Error; err != nil {
		return nil, err
	}
	if err := db.Where("status_category = ? AND status_is_active = ?", statusCategoryTask, true).
		Order("status_id").Find(&l.TaskStatuses).Error; err != nil {
		return nil, err
	}
	if err := db.Where("ctgry_is_active = ?", true).Order("ctgry_id").Find(&l.Categories).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// Team lists users with their company role, used to suggest assignees.
func (r *Repo) Team(ctx context.Context) ([]TeamMember, error) {
	var rows []struct {
		Email string
		Role  *string
	}
	err := r.DB.WithContext(ctx).Table(`"user" AS u`).
		Select("u.email AS email, MAX(d.user_role) AS role").
		Joins("LEFT JOIN dt_user_detail d ON d.user_id = u.id AND d.is_active = ?", true).
		Group("u.id, u.email").Order("u.id").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TeamMember, 0, len(rows))
	for _, row := range rows {
		role := "Developer"
		if row.Role != nil && *row.Role != "" && *row.Role != "member" {
			role = *row.Role
		}
		out = append(out, TeamMember{Email: row.Email, Role: role})
	}
	return out, nil
}

func (r *Repo) CreateStory(ctx context.Context, s *fields.UserStory) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

// Generated is what one generation run produced for a story.
type Generated struct {
	TestCases      []GeneratedTestCase
	Tasks          []GeneratedTask
	ProcessingTime float64
}

// SaveGenerated writes test cases, tasks and a successful generation log in one transaction
// and returns the stored rows with their lookups loaded.
func (r *Repo) SaveGenerated(ctx context.Context, storyID int64, g Generated) ([]fields.TestCase, []fields.Task, error) {
	var (
		testcases []fields.TestCase
		tasks     []fields.Task
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := lookupIDs(tx)
		if err != nil {
			return err
		}
		draft := ids.status(statusCategoryTestcase, "DRAFT")
		todo := ids.status(statusCategoryTask, "TODO")
		for _, tc := range g.TestCases {
			row := fields.TestCase{
				UserStoryID:      storyID,
				Title:            tc.Title,
				Description:      tc.Description,
				Steps:            fields.StringList(tc.Steps),
				ExpectedResult:   tc.ExpectedResult,
				PriorityID:       ids.priorities[tc.Priority],
				TypeID:           ids.categories[tc.Type],
				StatusID:         draft,
				NotionSyncStatus: fields.NotionPending,
			}
			if err := tx.Omit("Priority", "Type", "Status").Create(&row).Error; err != nil {
				return err
			}
			testcases = append(testcases, row)
		}
		for _, t := range g.Tasks {
			assignee, err := userByEmail(tx, t.Assignee)
			if err != nil {
				return err
			}
			row := fields.Task{
				UserStoryID:      storyID,
				Title:            t.Title,
				Description:      t.Description,
				AssigneeUserID:   assignee,
				PriorityID:       ids.priorities[t.Priority],
				StatusID:         todo,
				EstimatedHours:   t.EstimatedHours,
				Labels:           strings.Join(t.Labels, ","),
				DueDate:          t.DueDate,
				NotionSyncStatus: fields.NotionPending,
			}
			if err := tx.Omit("Assignee", "Priority", "Status").Create(&row).Error; err != nil {
				return err
			}
			tasks = append(tasks, row)
		}
		pt := g.ProcessingTime
		log := fields.GenerationLog{
			UserStoryID:    storyID,
			TypeID:         ids.categories[logTypeComplete],
			StatusID:       ids.status(statusCategoryGeneration, statusSuccess),
			ItemsGenerated: len(testcases) + len(tasks),
			ProcessingTime: &pt,
		}
		return tx.Create(&log).Error
	})
	if err != nil {
		return nil, nil, err
	}
	// reload with associations for the response
	tcs, err := r.TestCases(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	ts, err := r.Tasks(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	return tcs, ts, nil
}

// LogFailure records a failed generation for a story.
func (r *Repo) LogFailure(ctx context.Context, storyID int64, msg string, processingTime float64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := lookupIDs(tx)
		if err != nil {
			return err
		}
		return tx.Create(&fields.GenerationLog{
			UserStoryID:    storyID,
			TypeID:         ids.categories[logTypeComplete],
			StatusID:       ids.status(statusCategoryGeneration, statusFailed),
			ErrorMessage:   &msg,
			ProcessingTime: &processingTime,
		}).Error
	})
}

type lookupIndex struct {
	priorities map[string]*int64
	categories map[string]*int64
	statuses   map[string]*int64
}

func (l lookupIndex) status(category, code string) *int64 {
	return l.statuses[category+"/"+code]
}

func lookupIDs(tx *gorm.DB) (lookupIndex, error) {
	idx := lookupIndex{priorities: map[string]*int64{}, categories: map[string]*int64{}, statuses: map[string]*int64{}}
	var prios []fields.Priority
	if err := tx.Find(&prios).Error; err != nil {
		return idx, err
	}
	for _, p := range prios {
		idx.priorities[p.PriorityCode] = fields.Ptr(p.PriorityID)
	}
	var cats []fields.Category
	if err := tx.Find(&cats).Error; err != nil {
		return idx, err
	}
	for _, c := range cats {
		idx.categories[c.CtgryCode] = fields.Ptr(c.CtgryID)
	}
	var sts []fields.GeneralStatus
	if err := tx.Find(&sts).Error; err != nil {
		return idx, err
	}
	for _, s := range sts {
		idx.statuses[s.StatusCategory+"/"+s.StatusCode] = fields.Ptr(s.StatusID)
	}
	return idx, nil
}

// userByEmail resolves an assignee. Unassigned and unknown emails yield nil.
func userByEmail(tx *gorm.DB, email string) (*int64, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.EqualFold(email, "Unassigned") {
		return nil, nil
	}
	var u fields.User
	err := tx.Where("LOWER(email) = LOWER(?)", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u.ID, nil
}

func (r *Repo) Story(ctx context.Context, id int64) (*fields.UserStory, error) {
	var s fields.UserStory
	err := r.DB.WithContext(ctx).First(&s, "user_story_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) TestCases(ctx context.Context, storyID int64) ([]fields.TestCase, error) {
	var out []fields.TestCase
	err := r.DB.WithContext(ctx).Preload("Priority").Preload("Type").Preload("Status").
		Where("user_story_id = ?", storyID).Order("test_case_id").Find(&out).Error
	return out, err
}

func (r *Repo) Tasks(ctx context.Context, storyID int64) ([]fields.Task, error) {
	var out []fields.Task
	err := r.DB.WithContext(ctx).Preload("Assignee").Preload("Priority").Preload("Status").
		Where("user_story_id = ?", storyID).Order("task_id").Find(&out).Error
	return out, err
}

// HistoryRow is a story with the number of items generated for it.
type HistoryRow struct {
	UserStoryID   int64     `json:"user_story_id"`
	Title         string    `json:"user_story_title"`
	CreatedAt     time.Time `json:"user_story_created_at"`
	TestcaseCount int64     `json:"testcase_count"`
	TaskCount     int64     `json:"task_count"`
}

func (r *Repo) History(ctx context.Context) ([]HistoryRow, error) {
	var out []HistoryRow
	err := r.DB.WithContext(ctx).Raw(`SELECT s.user_story_id AS user_story_id,
		s.user_story_title AS title,
		s.user_story_created_at AS created_at,
		(SELECT COUNT(*) FROM dt_test_case t WHERE t.user_story_id = s.user_story_id) AS testcase_count,
		(SELECT COUNT(*) FROM dt_task k WHERE k.user_story_id = s.user_story_id) AS task_count
		FROM dt_user_story s
		ORDER BY s.user_story_created_at DESC, s.user_story_id DESC`).Scan(&out).Error
	if out == nil {
		out = []HistoryRow{}
	}
	return out, err
}

// Search matches the term case-insensitively against story titles and content.
func (r *Repo) Search(ctx context.Context, term string) ([]fields.UserStory, error) {
	pattern := "%" + strings.ToLower(term) + "%"
	out := []fields.UserStory{}
	err := r.DB.WithContext(ctx).
		Where("LOWER(user_story_title) LIKE ? OR LOWER(user_story_content) LIKE ?", pattern, pattern).
		Order("user_story_created_at DESC").Order("user_story_id DESC").Find(&out).Error
	return out, err
}

// DashboardStats summarizes generation activity.
type DashboardStats struct {
	TotalUserStories  int64   `json:"total_user_stories"`
	TotalTestcases    int64   `json:"total_testcases"`
	TotalTasks        int64   `json:"total_tasks"`
	TotalGenerations  int64   `json:"total_generations"`
	RecentUserStories int64   `json:"recent_user_stories"`
	SuccessRate       float64 `json:"success_rate"`
}

// Dashboard counts stories, items and generations. Successful generations are returned
// separately so the caller computes the rate.
func (r *Repo) Dashboard(ctx context.Context, since time.Time) (*DashboardStats, int64, error) {
	db := r.DB.WithContext(ctx)
	st := &DashboardStats{}
	counts := []struct {
		model any
		dst   *int64
	}{
		{&fields.UserStory{}, &st.TotalUserStories},
		{&fields.TestCase{}, &st.TotalTestcases},
		{&fields.Task{}, &st.TotalTasks},
		{&fields.GenerationLog{}, &st.TotalGenerations},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, 0, err
		}
	}
	if err := db.Model(&fields.UserStory{}).Where("user_story_created_at >= ?", since.UTC()).
		Count(&st.RecentUserStories).Error; err != nil {
		return nil, 0, err
	}
	var success int64
	err := db.Model(&fields.GenerationLog{}).
		Joins("JOIN lt_general_status s ON s.status_id = dt_generation_log.generation_log_status_id").
		Where("s.status_code = ? AND s.status_category = ?", statusSuccess, statusCategoryGeneration).
		Count(&success).Error
	if err != nil {
		return nil, 0, err
	}
	return st, success, nil
}
