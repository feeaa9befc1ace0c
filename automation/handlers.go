package automation

import (
	"net/http"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/apperr"
	"github.com/gofiber/fiber/v2"
)

// CreateHandler godoc
// @Summary generate test cases and tasks for a user story
// @Accept json
// @Produce json
// @Router /api/business-automation/create [post]
func (s *Service) CreateHandler(c *fiber.Ctx) error {
	var req CreateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.RespondSuccess(c, apperr.Newf(apperr.ErrBadRequest, "user_story and title are required"))
		}
	}
	if req.ComID == 0 {
		if id, ok := gateway.ComID(c); ok {
			req.ComID = id
		}
	}
	res, err := s.Create(c.UserContext(), req)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success":       true,
		"user_story_id": res.UserStoryID,
		"data":          fiber.Map{"testcases": res.TestCases, "tasks": res.Tasks},
	})
}

func storyID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, errStoryNotFound
	}
	return int64(id), nil
}

func (s *Service) StoryHandler(c *fiber.Ctx) error {
	id, err := storyID(c)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	st, err := s.Story(c.UserContext(), id)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": st})
}

func (s *Service) TestCasesHandler(c *fiber.Ctx) error {
	id, err := storyID(c)
	if err != nil {
		return apperr.RespondSuccess(c, errTestCasesNotFound)
	}
	rows, err := s.TestCases(c.UserContext(), id)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": rows, "user_story_id": id})
}

func (s *Service) TasksHandler(c *fiber.Ctx) error {
	id, err := storyID(c)
	if err != nil {
		return apperr.RespondSuccess(c, errTasksNotFound)
	}
	rows, err := s.Tasks(c.UserContext(), id)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": rows, "user_story_id": id})
}

func (s *Service) HistoryHandler(c *fiber.Ctx) error {
	rows, err := s.History(c.UserContext())
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

func (s *Service) SearchHandler(c *fiber.Ctx) error {
	q := c.Query("q")
	rows, err := s.Search(c.UserContext(), q)
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": rows, "search_term": q})
}

func (s *Service) DashboardHandler(c *fiber.Ctx) error {
	st, err := s.Dashboard(c.UserContext())
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": st})
}

func (s *Service) LookupsHandler(c *fiber.Ctx) error {
	l, err := s.Lookups(c.UserContext())
	if err != nil {
		return apperr.RespondSuccess(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": l})
}

// Mount registers the automation routes on r, normally /api/business-automation.
func (s *Service) Mount(r fiber.Router) {
	r.Post("/create", s.CreateHandler)
	r.Get("/user-story/:id", s.StoryHandler)
	r.Get("/testcases/:id", s.TestCasesHandler)
	r.Get("/tasks/:id", s.TasksHandler)
	r.Get("/history", s.HistoryHandler)
	r.Get("/search", s.SearchHandler)
	r.Get("/dashboard", s.DashboardHandler)
	r.Get("/lookups", s.LookupsHandler)
}
