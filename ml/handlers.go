package ml

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type Service struct {
	Predictor *Predictor
	Logger    *logrus.Logger
}

type predictRequest struct {
	Features *[]float64 `json:"features"`
}

// Predict godoc
// @Summary classify an iris sample
// @Param features body []float64 true "sepal length, sepal width, petal length, petal width"
// @Router /api/ml/predict [post]
func (s *Service) Predict(c *fiber.Ctx) error {
	var req predictRequest
	if err := c.BodyParser(&req); err != nil || req.Features == nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "Expected 'features' as a list of floats"})
	}
	res := s.Predictor.Predict(*req.Features)
	if !res.OK {
		s.Logger.WithFields(logrus.Fields{"path": s.Predictor.Path, "error": res.Error}).Warn("prediction failed")
		return c.Status(http.StatusInternalServerError).JSON(res)
	}
	return c.Status(http.StatusOK).JSON(res)
}
