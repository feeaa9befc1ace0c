package customers

import (
	"net/http"

	"github.com/adonese/bizpilot/apperr"
	"github.com/gofiber/fiber/v2"
)

// ListHandler godoc
// @Summary paginated customer list
// @Param page query int false "page, default 1"
// @Param per_page query int false "page size, default 50"
// @Router /api/customers [get]
func (s *Service) ListHandler(c *fiber.Ctx) error {
	rows, p, err := s.List(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("per_page", 50))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"customers": rows, "pagination": p})
}

func (s *Service) ProfileHandler(c *fiber.Ctx) error {
	p, err := s.Profile(c.UserContext(), c.Params("customer_id"))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(p)
}

func (s *Service) PurchasesHandler(c *fiber.Ctx) error {
	rows, p, err := s.Purchases(c.UserContext(), c.Params("customer_id"), c.QueryInt("page", 1), c.QueryInt("per_page", 20))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"purchases": rows, "pagination": p})
}

func (s *Service) SegmentHandler(c *fiber.Ctx) error {
	res, err := s.Segment(c.UserContext(), c.Params("segment"))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

func (s *Service) UploadHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.Respond(c, apperr.Newf(apperr.ErrBadRequest, "invalid upload id"))
	}
	res, err := s.UploadAnalysis(c.UserContext(), int64(id))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

func (s *Service) MetricsHandler(c *fiber.Ctx) error {
	m, err := s.Metrics(c.UserContext())
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(m)
}

// Mount registers the customer routes. Fixed paths are registered before :customer_id.
func (s *Service) Mount(r fiber.Router) {
	r.Get("/", s.ListHandler)
	r.Get("/metrics", s.MetricsHandler)
	r.Get("/segments/:segment", s.SegmentHandler)
	r.Get("/upload/:id", s.UploadHandler)
	r.Get("/:customer_id", s.ProfileHandler)
	r.Get("/:customer_id/purchases", s.PurchasesHandler)
}
