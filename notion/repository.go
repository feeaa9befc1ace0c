package notion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/adonese/bizpilot/fields"
	"gorm.io/gorm"
)

var errNoRow = errors.New("not found")

type Repo struct {
	DB *gorm.DB
}

func first[T any](q *gorm.DB) (*T, error) {
	var v T
	err := q.First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoRow
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repo) Story(ctx context.Context, id int64) (*fields.UserStory, error) {
	return first[fields.UserStory](r.DB.WithContext(ctx).Where("user_story_id = ?", id))
}

func (r *Repo) Task(ctx context.Context, id int64) (*fields.Task, error) {
	return first[fields.Task](r.DB.WithContext(ctx).Preload("Assignee").Preload("Priority").Preload("Status").
		Where("task_id = ?", id))
}

func (r *Repo) TestCase(ctx context.Context, id int64) (*fields.TestCase, error) {
	return first[fields.TestCase](r.DB.WithContext(ctx).Preload("Priority").Preload("Type").Preload("Status").
		Where("test_case_id = ?", id))
}

func (r *Repo) Tasks(ctx context.Context, storyID int64) ([]fields.Task, error) {
	var out []fields.Task
	err := r.DB.WithContext(ctx).Preload("Assignee").Preload("Priority").Preload("Status").
		Where("user_story_id = ?", storyID).Order("task_id").Find(&out).Error
	return out, err
}

func (r *Repo) TestCases(ctx context.Context, storyID int64) ([]fields.TestCase, error) {
	var out []fields.TestCase
	err := r.DB.WithContext(ctx).Preload("Priority").Preload("Type").Preload("Status").
		Where("user_story_id = ?", storyID).Order("test_case_id").Find(&out).Error
	return out, err
}

// Account returns the active Notion account of a company.
func (r *Repo) Account(ctx context.Context, comID int64) (*fields.NotionAccount, error) {
	return first[fields.NotionAccount](r.DB.WithContext(ctx).
		Where("com_id = ? AND is_active = ?", comID, true).Order("notion_id"))
}

// Role is the company role of a user, empty when none is recorded.
func (r *Repo) Role(ctx context.Context, userID, comID int64) (string, error) {
	var roles []string
	err := r.DB.WithContext(ctx).Model(&fields.UserDetail{}).
		Where("user_id = ? AND com_id = ? AND is_active = ?", userID, comID, true).
		Limit(1).Pluck("user_role", &roles).Error
	if err != nil || len(roles) == 0 {
		return "", err
	}
	return roles[0], nil
}

// SetStoryPages records the story page and its two databases together.
func (r *Repo) SetStoryPages(ctx context.Context, storyID int64, pageID, tasksDB, testcasesDB string) error {
	return r.DB.WithContext(ctx).Model(&fields.UserStory{}).Where("user_story_id = ?", storyID).
		Updates(map[string]any{
			"notion_task_page_id":         pageID,
			"notion_task_database_id":     tasksDB,
			"notion_testcase_database_id": testcasesDB,
		}).Error
}

func (r *Repo) SetTaskPage(ctx context.Context, taskID int64, pageID string, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&fields.Task{}).Where("task_id = ?", taskID).
		Updates(map[string]any{"notion_page_id": pageID, "notion_synced_at": at, "notion_sync_status": fields.NotionSynced}).Error
}

func (r *Repo) SetTestCasePage(ctx context.Context, tcID int64, pageID string, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&fields.TestCase{}).Where("test_case_id = ?", tcID).
		Updates(map[string]any{"notion_page_id": pageID, "notion_synced_at": at, "notion_sync_status": fields.NotionSynced}).Error
}

func (r *Repo) MarkTaskFailed(ctx context.Context, taskID int64) error {
	return r.DB.WithContext(ctx).Model(&fields.Task{}).Where("task_id = ?", taskID).
		Update("notion_sync_status", fields.NotionFailed).Error
}

func (r *Repo) MarkTestCaseFailed(ctx context.Context, tcID int64) error {
	return r.DB.WithContext(ctx).Model(&fields.TestCase{}).Where("test_case_id = ?", tcID).
		Update("notion_sync_status", fields.NotionFailed).Error
}

// lookup ids by display name; Notion selects carry names, not codes.
func (r *Repo) priorityID(tx *gorm.DB, name string) (*int64, error) {
	var ids []int64
	err := tx.Model(&fields.Priority{}).
		Where("LOWER(priority_name) = ? OR LOWER(priority_code) = ?", strings.ToLower(name), strings.ToLower(name)).
		Limit(1).Pluck("priority_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

func (r *Repo) statusID(tx *gorm.DB, category, name string) (*int64, error) {
	var ids []int64
	err := tx.Model(&fields.GeneralStatus{}).
		Where("status_category = ? AND (LOWER(status_name) = ? OR LOWER(status_code) = ?)",
			category, strings.ToLower(name), strings.ToLower(strings.ReplaceAll(name, " ", "_"))).
		Limit(1).Pluck("status_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

func (r *Repo) categoryID(tx *gorm.DB, name string) (*int64, error) {
	var ids []int64
	err := tx.Model(&fields.Category{}).
		Where("LOWER(ctgry_name) = ? OR LOWER(ctgry_code) = ?", strings.ToLower(name), strings.ToLower(name)).
		Limit(1).Pluck("ctgry_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

// ApplyTaskUpdate writes the synced properties onto the task. Unknown priority or status names
// leave the stored value untouched.
func (r *Repo) ApplyTaskUpdate(ctx context.Context, t *fields.Task, u TaskUpdate, at time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set := map[string]any{"notion_synced_at": at, "notion_sync_status": fields.NotionSynced}
		if u.Title != nil {
			set["task_title"] = stripTitle(*u.Title, t.UserStoryID, "Task")
		}
		if u.Description != nil {
			set["task_description"] = *u.Description
		}
		if u.EstimatedHours != nil {
			set["task_estimated_hours"] = *u.EstimatedHours
		}
		if u.Labels != nil {
			set["task_labels"] = strings.Join(u.Labels, ",")
		}
		if u.Priority != nil {
			id, err := r.priorityID(tx, *u.Priority)
			if err != nil {
				return err
			}
			if id != nil {
				set["task_priority_id"] = *id
			}
		}
		if u.Status != nil {
			id, err := r.statusID(tx, "task", *u.Status)
			if err != nil {
				return err
			}
			if id != nil {
				set["task_status_id"] = *id
			}
		}
		return tx.Model(&fields.Task{}).Where("task_id = ?", t.TaskID).Updates(set).Error
	})
}

func (r *Repo) ApplyTestCaseUpdate(ctx context.Context, tc *fields.TestCase, u TestCaseUpdate, at time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set := map[string]any{"notion_synced_at": at, "notion_sync_status": fields.NotionSynced}
		if u.Title != nil {
			set["test_case_title"] = stripTitle(*u.Title, tc.UserStoryID, "TestCase")
		}
		if u.Description != nil {
			set["test_case_description"] = *u.Description
		}
		if u.ExpectedResult != nil {
			set["test_case_expected_result"] = *u.ExpectedResult
		}
		if u.Steps != nil {
			set["test_case_steps"] = fields.StringList(parseSteps(*u.Steps))
		}
		if u.Priority != nil {
			id, err := r.priorityID(tx, *u.Priority)
			if err != nil {
				return err
			}
			if id != nil {
				set["test_case_priority_id"] = *id
			}
		}
		if u.Type != nil {
			id, err := r.categoryID(tx, *u.Type)
			if err != nil {
				return err
			}
			if id != nil {
				set["test_case_type_id"] = *id
			}
		}
		if u.Status != nil {
			id, err := r.statusID(tx, "testcase", *u.Status)
			if err != nil {
				return err
			}
			if id != nil {
				set["test_case_status_id"] = *id
			}
		}
		return tx.Model(&fields.TestCase{}).Where("test_case_id = ?", tc.TestCaseID).Updates(set).Error
	})
}

// SetToken stores an encoded token on the company's active account.
func (r *Repo) SetToken(ctx context.Context, accountID int64, encoded string) error {
	return r.DB.WithContext(ctx).Model(&fields.NotionAccount{}).Where("notion_id = ?", accountID).
		Updates(map[string]any{"notion_token": encoded, "error_message": nil, "sync_status": "active"}).Error
}
