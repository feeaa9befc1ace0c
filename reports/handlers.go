package reports

import (
	"bytes"
	"fmt"

	"github.com/adonese/bizpilot/apperr"
	"github.com/gofiber/fiber/v2"
)

// AnalyticsHandler godoc
// @Summary business analytics over customers and purchases
// @Router /api/reports/analytics [get]
func (s *Service) AnalyticsHandler(c *fiber.Ctx) error {
	a, err := s.Analytics(c.UserContext())
	if err != nil {
		return apperr.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "analytics": a})
}

// PDFHandler godoc
// @Summary business report as a PDF download
// @Produce application/pdf
// @Router /api/reports/pdf [get]
func (s *Service) PDFHandler(c *fiber.Ctx) error {
	a, err := s.Analytics(c.UserContext())
	if err != nil {
		return apperr.RespondError(c, err)
	}
	var buf bytes.Buffer
	if err := WritePDF(&buf, a); err != nil {
		s.Logger.WithError(err).Error("pdf rendering failed")
		return apperr.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "Report generation failed: "+err.Error()))
	}
	name := fmt.Sprintf("business_report_%s.pdf", s.Now().UTC().Format("20060102_1504"))
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(buf.Bytes())
}

func (s *Service) Mount(r fiber.Router) {
	r.Get("/analytics", s.AnalyticsHandler)
	r.Get("/pdf", s.PDFHandler)
}
