// Package auth issues API tokens for existing users.
package auth

import (
	"errors"
	"net/http"
	"strings"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Auther signs tokens. *gateway.JWTAuth implements it.
type Auther interface {
	GenerateJWT(userID int64, email string, comID int64) (string, error)
}

type Service struct {
	DB     *gorm.DB
	Auth   Auther
	Logger *logrus.Logger
}

var validate = validator.New()

type tokenRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// company returns the first active company of the user, or the default company.
func (s *Service) company(tx *gorm.DB, userID int64) (int64, error) {
	var ids []int64
	err := tx.Model(&fields.UserDetail{}).Where("user_id = ? AND is_active = ?", userID, true).
		Order("user_detail_id").Limit(1).Pluck("com_id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return fields.DefaultCompanyID, nil
	}
	return ids[0], nil
}

// TokenHandler godoc
// @Summary issue a bearer token for an existing user
// @Param body body tokenRequest true "user email"
// @Router /api/auth/token [post]
func (s *Service) TokenHandler(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Respond(c, apperr.Newf(apperr.ErrBadRequest, "invalid JSON body"))
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return apperr.Respond(c, apperr.Newf(apperr.ErrValidation, "a valid email is required"))
	}
	db := s.DB.WithContext(c.UserContext())
	var u fields.User
	if err := db.Where("LOWER(email) = ?", req.Email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Respond(c, apperr.Newf(apperr.ErrNotFound, "user not found"))
		}
		return apperr.Respond(c, apperr.Wrap(err, apperr.ErrDatabase, "could not load user"))
	}
	comID, err := s.company(db, u.ID)
	if err != nil {
		return apperr.Respond(c, apperr.Wrap(err, apperr.ErrDatabase, "could not load user company"))
	}
	token, err := s.Auth.GenerateJWT(u.ID, u.Email, comID)
	if err != nil {
		s.Logger.WithError(err).Error("token signing failed")
		return apperr.Respond(c, apperr.Wrap(err, apperr.ErrInternal, "could not issue token"))
	}
	gateway.Entry(c, s.Logger).WithField("user_id", u.ID).Info("api token issued")
	c.Set("Authorization", token)
	return c.Status(http.StatusOK).JSON(fiber.Map{"authorization": token, "user": u, "com_id": comID})
}

// Mount registers the token route. guard must restrict it to administrators.
func (s *Service) Mount(r fiber.Router, guard fiber.Handler) {
	r.Post("/token", guard, s.TokenHandler)
}
