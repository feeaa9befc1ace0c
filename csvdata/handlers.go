package csvdata

import (
	"net/http"
	"strings"
	"time"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/gofiber/fiber/v2"
)

type uploadQuery struct {
	Type    string `query:"type" json:"type" binding:"required,csvtype"`
	BatchID string `query:"batch_id" json:"batch_id" binding:"omitempty,max=64"`
}

type uploadView struct {
	ID               int64   `json:"id"`
	CSVType          string  `json:"csv_type"`
	Status           string  `json:"status"`
	RowCount         *int    `json:"row_count"`
	BatchID          *string `json:"batch_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ValidatedAt      *string `json:"validated_at"`
	OriginalFilename string  `json:"original_filename,omitempty"`
	ErrorMsg         *string `json:"error_msg,omitempty"`
}

func viewOf(u fields.CSVUpload, listing bool) uploadView {
	v := uploadView{
		ID:        u.ID,
		CSVType:   u.CSVType,
		Status:    u.Status,
		RowCount:  u.RowCount,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		ErrorMsg:  u.ErrorMsg,
	}
	if u.ValidatedAt != nil {
		ts := u.ValidatedAt.Format(time.RFC3339)
		v.ValidatedAt = &ts
	}
	if listing {
		v.BatchID = u.BatchID
		v.OriginalFilename = u.OriginalFilename
	}
	return v
}

// Template godoc
// @Summary download a header-only CSV template
// @Router /api/csv/templates/{ctype} [get]
func (s *Service) Template(c *fiber.Ctx) error {
	ctype := c.Params("ctype")
	body, ok := Template(ctype)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "unknown type"})
	}
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Attachment(ctype + "_template.csv")
	return c.Status(http.StatusOK).Send(body)
}

// Upload godoc
// @Summary upload and validate a CSV
// @Param type query string true "sales or inventory"
// @Param batch_id query string false "group related uploads"
// @Router /api/csv/upload [post]
func (s *Service) UploadHandler(c *fiber.Ctx) error {
	var q uploadQuery
	if err := c.QueryParser(&q); err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrBadRequest, "invalid query"))
	}
	q.Type = strings.TrimSpace(q.Type)
	if err := fields.ValidateStruct(q); err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrBadRequest, "type must be one of: sales, inventory"))
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrBadRequest, "file is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.RespondOK(c, apperr.Wrap(err, apperr.ErrBadRequest, "could not read file"))
	}
	defer f.Close()

	var userID *int64
	if uid, ok := gateway.UserID(c); ok {
		userID = &uid
	}
	var batchID *string
	if q.BatchID != "" {
		batchID = &q.BatchID
	}

	ctx := c.UserContext()
	u, err := s.Save(ctx, f, fh.Filename, q.Type, userID, batchID)
	if err != nil {
		gateway.Entry(c, s.Logger).WithError(err).Warn("csv upload rejected")
		return apperr.RespondOK(c, err)
	}
	ok, info, err := s.Validate(ctx, u)
	if err != nil {
		return apperr.RespondOK(c, err)
	}
	body := fiber.Map{"ok": ok, "upload_id": u.ID}
	for k, v := range info {
		body[k] = v
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusBadRequest
	}
	return c.Status(status).JSON(body)
}

func (s *Service) Status(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrNotFound, "upload not found"))
	}
	u, err := s.Upload(c.UserContext(), int64(id))
	if err != nil {
		return apperr.RespondOK(c, err)
	}
	return c.Status(http.StatusOK).JSON(viewOf(*u, false))
}

// DashboardHandler returns chart-ready metrics of one upload.
func (s *Service) DashboardHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrNotFound, "upload not found"))
	}
	u, m, err := s.Dashboard(c.UserContext(), int64(id))
	if err != nil {
		return apperr.RespondOK(c, err)
	}
	body := fiber.Map{"ok": true, "csv_type": u.CSVType}
	if m.Sales != nil {
		body["kpis"] = m.Sales.KPIs
		body["sales_trend"] = m.Sales.SalesTrend
		body["top_items"] = m.Sales.TopItems
	} else if m.Inventory != nil {
		body["kpis"] = m.Inventory.KPIs
		body["inventory_levels"] = m.Inventory.InventoryLevels
		body["cogs_trend"] = m.Inventory.COGSTrend
	}
	return c.Status(http.StatusOK).JSON(body)
}

func (s *Service) insightResponse(c *fiber.Ctx, in *Insight, err error) error {
	if err != nil {
		return apperr.RespondOK(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "metrics": in.Metrics, "insight": in.Insight, "cached": in.Cached})
}

func (s *Service) InsightHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrNotFound, "upload not found"))
	}
	in, err := s.UploadInsight(c.UserContext(), int64(id))
	return s.insightResponse(c, in, err)
}

func (s *Service) PairInsightHandler(c *fiber.Ctx) error {
	salesID := int64(c.QueryInt("sales_id"))
	invID := int64(c.QueryInt("inventory_id"))
	in, err := s.PairInsight(c.UserContext(), salesID, invID, strings.TrimSpace(c.Query("batch_id")))
	return s.insightResponse(c, in, err)
}

func (s *Service) BatchInsightHandler(c *fiber.Ctx) error {
	in, err := s.BatchInsight(c.UserContext(), strings.TrimSpace(c.Query("batch_id")))
	return s.insightResponse(c, in, err)
}

// UploadsHandler lists the latest uploads, newest first.
func (s *Service) UploadsHandler(c *fiber.Ctx) error {
	rows, err := s.Uploads(c.UserContext(), strings.TrimSpace(c.Query("batch_id")))
	if err != nil {
		return apperr.RespondOK(c, err)
	}
	out := make([]uploadView, 0, len(rows))
	for _, r := range rows {
		out = append(out, viewOf(r, true))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// ProcessHandler ingests a validated sales upload into customers and purchases.
func (s *Service) ProcessHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperr.RespondOK(c, apperr.Newf(apperr.ErrNotFound, "upload not found"))
	}
	res, err := s.Process(c.UserContext(), int64(id))
	if err != nil {
		gateway.Entry(c, s.Logger).WithError(err).WithField("upload_id", id).Warn("csv process failed")
		return apperr.RespondOK(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"upload_id": res.UploadID,
		"purchases": res.Purchases,
		"customers": res.Customers,
		"skipped":   res.Skipped,
	})
}

// Mount registers the csv routes on r.
func (s *Service) Mount(r fiber.Router) {
	r.Get("/templates/:ctype", s.Template)
	r.Post("/upload", s.UploadHandler)
	r.Get("/uploads", s.UploadsHandler)
	r.Get("/dashboard/:id", s.DashboardHandler)
	r.Post("/insight/pair", s.PairInsightHandler)
	r.Post("/insight/batch", s.BatchInsightHandler)
	r.Post("/insight/:id", s.InsightHandler)
	r.Get("/:id/status", s.Status)
	r.Post("/:id/process", s.ProcessHandler)
}
