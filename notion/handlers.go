package notion

import (
	"fmt"
	"net/http"

	"github.com/adonese/bizpilot/apperr"
	"github.com/gofiber/fiber/v2"
)

func params(c *fiber.Ctx, names ...string) ([]int64, error) {
	out := make([]int64, 0, len(names))
	for _, n := range names {
		v, err := c.ParamsInt(n)
		if err != nil || v <= 0 {
			return nil, apperr.Newf(apperr.ErrBadRequest, "invalid %s", n)
		}
		out = append(out, int64(v))
	}
	return out, nil
}

func pushed(c *fiber.Ctx, idKey string, res *PushResult) error {
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success":        true,
		"message":        res.Message,
		idKey:            res.ID,
		"notion_page_id": res.NotionPageID,
		"notion_url":     res.NotionURL,
	})
}

// PushTaskHandler godoc
// @Summary create the Notion page of a task
// @Router /api/notion/{story_id}/tasks/{task_id} [post]
func (s *Service) PushTaskHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id", "task_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	res, err := s.PushTask(c.UserContext(), ids[0], ids[1])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return pushed(c, "task_id", res)
}

func (s *Service) PushTestCaseHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id", "tc_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	res, err := s.PushTestCase(c.UserContext(), ids[0], ids[1])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return pushed(c, "test_case_id", res)
}

func (s *Service) SyncTaskHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id", "task_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	data, updated, err := s.SyncTask(c.UserContext(), ids[0], ids[1])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"message":        "Task successfully synced from Notion and updated in local database",
		"task_id":        ids[1],
		"notion_page_id": updated.NotionPageID,
		"synced_data":    data,
		"updated_task":   updated,
	})
}

func (s *Service) SyncTestCaseHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id", "tc_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	data, updated, err := s.SyncTestCase(c.UserContext(), ids[0], ids[1])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{
		"success":          true,
		"message":          "Test case successfully synced from Notion and updated in local database",
		"test_case_id":     ids[1],
		"notion_page_id":   updated.NotionPageID,
		"synced_data":      data,
		"updated_testcase": updated,
	})
}

func bulk(c *fiber.Ctx, storyID int64, kind, totalKey, idKey string, res *BulkResult) error {
	results := make([]fiber.Map, 0, len(res.Results))
	for _, r := range res.Results {
		m := fiber.Map{idKey: r.ID, "status": r.Status}
		for k, v := range map[string]string{"message": r.Message, "notion_page_id": r.NotionPageID,
			"notion_url": r.NotionURL, "error": r.Error} {
			if v != "" {
				m[k] = v
			}
		}
		results = append(results, m)
	}
	status := http.StatusOK
	if res.ErrorCount > 0 {
		status = http.StatusMultiStatus
	}
	return c.Status(status).JSON(fiber.Map{
		"success":       res.ErrorCount == 0,
		"message":       fmt.Sprintf("Bulk %s creation completed. %d created, %d failed", kind, res.SuccessCount, res.ErrorCount),
		"user_story_id": storyID,
		totalKey:        res.Total,
		"success_count": res.SuccessCount,
		"error_count":   res.ErrorCount,
		"results":       results,
	})
}

func (s *Service) PushAllTasksHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	res, err := s.PushAllTasks(c.UserContext(), ids[0])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return bulk(c, ids[0], "task", "total_tasks", "task_id", res)
}

func (s *Service) PushAllTestCasesHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	res, err := s.PushAllTestCases(c.UserContext(), ids[0])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return bulk(c, ids[0], "test case", "total_test_cases", "test_case_id", res)
}

func (s *Service) ValidateTokenHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	story, v, err := s.ValidateToken(c.UserContext(), ids[0])
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user_story_id": ids[0], "com_id": story.ComID, "validation_result": v})
}

func (s *Service) UpdateTokenHandler(c *fiber.Ctx) error {
	ids, err := params(c, "story_id")
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	var body struct {
		NewToken string `json:"new_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperr.RespondSuccess(c, apperr.Newf(apperr.ErrBadRequest, "new_token is required in request body"))
		}
	}
	story, v, err := s.UpdateToken(c.UserContext(), ids[0], body.NewToken)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{
		"success":           true,
		"message":           "Token updated successfully",
		"user_story_id":     ids[0],
		"com_id":            story.ComID,
		"validation_result": v,
	})
}

// Mount registers the Notion routes on r, normally /api/notion. guard protects token updates.
func (s *Service) Mount(r fiber.Router, guard fiber.Handler) {
	g := r.Group("/:story_id")
	g.Post("/tasks/:task_id", s.PushTaskHandler)
	g.Post("/testcases/:tc_id", s.PushTestCaseHandler)
	g.Get("/tasks/:task_id/sync", s.SyncTaskHandler)
	g.Get("/testcases/:tc_id/sync", s.SyncTestCaseHandler)
	g.Post("/tasks", s.PushAllTasksHandler)
	g.Post("/testcases", s.PushAllTestCasesHandler)
	g.Get("/token/validate", s.ValidateTokenHandler)
	if guard != nil {
		g.Put("/token", guard, s.UpdateTokenHandler)
	} else {
		g.Put("/token", s.UpdateTokenHandler)
	}
}
