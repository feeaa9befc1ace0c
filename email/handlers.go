package email

import (
	"net/http"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/gofiber/fiber/v2"
)

var errJSONRequired = apperr.Newf(apperr.ErrBadRequest, "JSON data required")

// bind parses a JSON body. Missing required fields, plus any extra names the caller found
// missing, are reported the way clients expect.
func bind(c *fiber.Ctx, dst any, extra func() []string) error {
	if len(c.Body()) == 0 {
		return errJSONRequired
	}
	if err := c.BodyParser(dst); err != nil {
		return errJSONRequired
	}
	var missing []string
	if err := fields.ValidateStruct(dst); err != nil {
		missing = fields.MissingFields(err)
		if len(missing) == 0 {
			return apperr.Wrap(err, apperr.ErrValidation, err.Error())
		}
	}
	if extra != nil {
		missing = append(missing, extra()...)
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.ErrBadRequest, "Missing required fields: %s", fields.QuotedList(missing))
	}
	return nil
}

type createFunc func(*Service, *fiber.Ctx, CampaignRequest) (*fields.EmailCampaign, error)

func (s *Service) createHandler(create createFunc, needsProduct bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req CampaignRequest
		var extra func() []string
		if needsProduct {
			extra = func() []string {
				if req.ProductFilter == "" {
					return []string{"product_filter"}
				}
				return nil
			}
		}
		if err := bind(c, &req, extra); err != nil {
			return apperr.RespondError(c, err)
		}
		campaign, err := create(s, c, req)
		if err != nil {
			return apperr.RespondError(c, err)
		}
		body := fiber.Map{
			"ok":            true,
			"campaign_id":   campaign.ID,
			"name":          campaign.Name,
			"subject":       campaign.Subject,
			"campaign_type": campaign.CampaignType,
			"status":        campaign.Status,
		}
		if campaign.ProductFilter != nil {
			body["product_filter"] = *campaign.ProductFilter
		}
		if campaign.ScheduledAt != nil {
			body["scheduled_at"] = campaign.ScheduledAt
		}
		if req.AutoSend && campaign.Status == fields.CampaignDraft {
			res, err := s.Send(c.UserContext(), campaign.ID)
			if err != nil {
				body["send_result"] = fiber.Map{"error": apperr.Message(err)}
			} else {
				body["send_result"] = res
			}
		}
		return c.Status(http.StatusCreated).JSON(body)
	}
}

// LoyaltyHandler godoc
// @Summary create a loyalty rewards campaign
// @Router /api/email/loyalty-promotion [post]
func (s *Service) LoyaltyHandler() fiber.Handler {
	return s.createHandler(func(s *Service, c *fiber.Ctx, req CampaignRequest) (*fields.EmailCampaign, error) {
		return s.CreateLoyalty(c.UserContext(), req)
	}, false)
}

func (s *Service) PromotionHandler() fiber.Handler {
	return s.createHandler(func(s *Service, c *fiber.Ctx, req CampaignRequest) (*fields.EmailCampaign, error) {
		return s.CreatePromotion(c.UserContext(), req)
	}, true)
}

func (s *Service) WinbackHandler() fiber.Handler {
	return s.createHandler(func(s *Service, c *fiber.Ctx, req CampaignRequest) (*fields.EmailCampaign, error) {
		return s.CreateWinback(c.UserContext(), req)
	}, false)
}

func (s *Service) SendHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondError(c, apperr.Newf(apperr.ErrBadRequest, "invalid campaign id"))
	}
	res, err := s.Send(c.UserContext(), int64(id))
	if err != nil {
		return apperr.RespondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":               true,
		"campaign_id":      res.CampaignID,
		"sent_count":       res.SentCount,
		"failed_count":     res.FailedCount,
		"total_recipients": res.TotalRecipients,
	})
}

// SendCustomHandler godoc
// @Summary send a custom email to a segment or a single customer
// @Router /api/email/send-custom [post]
func (s *Service) SendCustomHandler(c *fiber.Ctx) error {
	var req CustomRequest
	if err := bind(c, &req, nil); err != nil {
		return apperr.RespondError(c, err)
	}
	res, err := s.SendCustom(c.UserContext(), req)
	if err != nil {
		return apperr.RespondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":               true,
		"campaign_id":      res.CampaignID,
		"campaign_name":    res.CampaignName,
		"subject":          res.Subject,
		"segment":          res.Segment,
		"target_customers": res.TargetCustomers,
		"send_result":      res.SendResult,
	})
}

func (s *Service) CampaignsHandler(c *fiber.Ctx) error {
	rows, p, err := s.List(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("per_page", 20))
	if err != nil {
		return apperr.RespondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"campaigns": rows, "pagination": p})
}

func (s *Service) StatsHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondError(c, apperr.Newf(apperr.ErrNotFound, "Campaign not found"))
	}
	st, err := s.Stats(c.UserContext(), int64(id))
	if err != nil {
		return apperr.RespondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(st)
}

// Mount registers the campaign routes. guard, when set, protects every route that sends mail.
func (s *Service) Mount(r fiber.Router, guard fiber.Handler) {
	sending := []fiber.Handler{}
	if guard != nil {
		sending = append(sending, guard)
	}
	with := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, sending...), h)
	}
	r.Get("/campaigns", s.CampaignsHandler)
	r.Get("/campaigns/:id/stats", s.StatsHandler)
	r.Post("/loyalty-promotion", with(s.LoyaltyHandler())...)
	r.Post("/product-promotion", with(s.PromotionHandler())...)
	r.Post("/win-back", with(s.WinbackHandler())...)
	r.Post("/send/:id", with(s.SendHandler)...)
	r.Post("/send-custom", with(s.SendCustomHandler)...)
}
