// Package email runs marketing campaigns against the customer base: loyalty rewards, product
// promotions, win-back offers and one-off custom messages.
package email

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/customers"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var emailSends = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bizpilot",
	Subsystem: "email",
	Name:      "sends_total",
	Help:      "Campaign emails by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(emailSends)
}

// Customers is implemented by *store.Store.
type Customers interface {
	CustomersWhere(ctx context.Context, cond sq.Sqlizer, withEmail bool) ([]fields.Customer, error)
	ProductBuyers(ctx context.Context, filter string, withEmail bool) ([]fields.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*fields.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*fields.Customer, error)
}

// Segments resolves named customer segments; *customers.Service implements it.
type Segments interface {
	SegmentMembers(ctx context.Context, segment string, withEmail bool) ([]fields.Customer, string, error)
}

// segmentProductSpecific marks campaigns aimed at the buyers of a product.
const segmentProductSpecific = "product_specific"

var ErrNotDraft = apperr.New("not_draft", http.StatusBadRequest, "Campaign already sent or not in draft status")

type Service struct {
	Repo      *Repo
	Customers Customers
	Segments  Segments
	Mailer    Mailer
	Logger    *logrus.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) today() time.Time {
	n := s.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// CampaignRequest is the body of the campaign creation routes. Zero values take the defaults
// of each campaign type.
type CampaignRequest struct {
	Name            string         `json:"name" binding:"required"`
	Subject         string         `json:"subject" binding:"required"`
	DiscountPercent *int           `json:"discount_percent"`
	MinOrders       *int           `json:"min_orders"`
	MinSpent        *float64       `json:"min_spent"`
	InactiveDays    *int           `json:"inactive_days"`
	ProductFilter   string         `json:"product_filter"`
	TargetCustomers string         `json:"target_customers"`
	TemplateVars    map[string]any `json:"template_vars"`
	AutoSend        bool           `json:"auto_send"`
	ScheduledAt     *time.Time     `json:"scheduled_at"`
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// CreateLoyalty targets customers with at least min_orders orders and min_spent total spend.
func (s *Service) CreateLoyalty(ctx context.Context, req CampaignRequest) (*fields.EmailCampaign, error) {
	minOrders := intOr(req.MinOrders, 5)
	minSpent := 1000.0
	if req.MinSpent != nil {
		minSpent = *req.MinSpent
	}
	discount := intOr(req.DiscountPercent, 20)
	recipients, err := s.Customers.CustomersWhere(ctx,
		sq.And{sq.GtOrEq{"total_orders": minOrders}, sq.GtOrEq{"total_spent": minSpent}}, true)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load loyal customers")
	}
	c := s.draft(req, fields.CampaignLoyalty, customers.SegmentLoyal, loyaltyTemplate(discount, req.TemplateVars))
	return c, s.create(ctx, c, recipients)
}

// CreatePromotion targets previous buyers of the product, or every reachable customer when
// target_customers is anything else.
func (s *Service) CreatePromotion(ctx context.Context, req CampaignRequest) (*fields.EmailCampaign, error) {
	if strings.TrimSpace(req.ProductFilter) == "" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "product_filter is required")
	}
	discount := intOr(req.DiscountPercent, 10)
	target := req.TargetCustomers
	if target == "" {
		target = "previous_buyers"
	}
	var (
		recipients []fields.Customer
		err        error
	)
	if target == "previous_buyers" {
		recipients, err = s.Customers.ProductBuyers(ctx, req.ProductFilter, true)
	} else {
		recipients, err = s.Customers.CustomersWhere(ctx, nil, true)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load promotion audience")
	}
	c := s.draft(req, fields.CampaignPromotion, segmentProductSpecific,
		promotionTemplate(req.ProductFilter, discount, req.TemplateVars))
	c.ProductFilter = fields.Ptr(req.ProductFilter)
	return c, s.create(ctx, c, recipients)
}

// CreateWinback targets customers with no purchase in the last inactive_days days.
func (s *Service) CreateWinback(ctx context.Context, req CampaignRequest) (*fields.EmailCampaign, error) {
	days := intOr(req.InactiveDays, 90)
	discount := intOr(req.DiscountPercent, 25)
	cutoff := s.today().AddDate(0, 0, -days)
	recipients, err := s.Customers.CustomersWhere(ctx,
		sq.And{sq.Lt{"last_purchase_date": cutoff}, sq.Gt{"total_orders": 0}}, true)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load inactive customers")
	}
	c := s.draft(req, fields.CampaignWinback, customers.SegmentAtRisk, winbackTemplate(discount, req.TemplateVars))
	return c, s.create(ctx, c, recipients)
}

func (s *Service) draft(req CampaignRequest, ctype, segment, template string) *fields.EmailCampaign {
	c := &fields.EmailCampaign{
		Name:          req.Name,
		Subject:       req.Subject,
		Template:      template,
		CampaignType:  ctype,
		TargetSegment: fields.Ptr(segment),
		Status:        fields.CampaignDraft,
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		c.ScheduledAt = &at
		c.Status = fields.CampaignScheduled
	}
	return c
}

func (s *Service) create(ctx context.Context, c *fields.EmailCampaign, recipients []fields.Customer) error {
	if err := s.Repo.CreateCampaign(ctx, c, recipients); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "could not create campaign")
	}
	s.Logger.WithFields(logrus.Fields{
		"campaign_id": c.ID,
		"type":        c.CampaignType,
		"recipients":  len(recipients),
		"status":      c.Status,
	}).Info("campaign created")
	return nil
}

type SendResult struct {
	CampaignID      int64 `json:"campaign_id"`
	SentCount       int   `json:"sent_count"`
	FailedCount     int   `json:"failed_count"`
	TotalRecipients int   `json:"total_recipients"`
}

// Send mails every pending recipient of a draft campaign, or of a scheduled campaign that is due.
// Delivery failures are recorded per recipient; the campaign ends up sent either way.
func (s *Service) Send(ctx context.Context, id int64) (*SendResult, error) {
	c, err := s.campaign(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.Repo.ClaimCampaign(ctx, id, s.now())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not claim campaign")
	}
	if !ok {
		return nil, ErrNotDraft
	}
	sends, err := s.Repo.PendingSends(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load recipients")
	}

	res := &SendResult{CampaignID: id, TotalRecipients: len(sends)}
	for i := range sends {
		send := &sends[i]
		name := ""
		if send.Customer != nil {
			name = send.Customer.Name
		}
		err := s.Mailer.Send(ctx, send.Email, c.Subject, personalize(c.Template, name))
		if err != nil {
			s.Logger.WithError(err).WithField("to", send.Email).Warn("failed to send email")
			send.Status = fields.SendFailed
			send.ErrorMessage = fields.Ptr(err.Error())
			res.FailedCount++
			emailSends.WithLabelValues("failed").Inc()
			continue
		}
		sentAt := s.now()
		send.Status = fields.SendSent
		send.SentAt = &sentAt
		res.SentCount++
		emailSends.WithLabelValues("sent").Inc()
	}
	if err := s.Repo.FinishCampaign(ctx, id, sends, s.now()); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not record sends")
	}
	s.Logger.WithFields(logrus.Fields{
		"campaign_id": id,
		"sent":        res.SentCount,
		"failed":      res.FailedCount,
	}).Info("campaign sent")
	return res, nil
}

func (s *Service) campaign(ctx context.Context, id int64) (*fields.EmailCampaign, error) {
	c, err := s.Repo.Campaign(ctx, id)
	if err != nil {
		if errors.Is(err, errCampaignNotFound) {
			return nil, apperr.Newf(apperr.ErrNotFound, "Campaign not found")
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load campaign")
	}
	return c, nil
}

// SendDue sends every scheduled campaign whose time has come. Campaigns claimed by a
// concurrent Send are skipped.
func (s *Service) SendDue(ctx context.Context) (int, error) {
	ids, err := s.Repo.DueCampaigns(ctx, s.now())
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, id := range ids {
		if _, err := s.Send(ctx, id); err != nil {
			if errors.Is(err, ErrNotDraft) {
				continue
			}
			s.Logger.WithError(err).WithField("campaign_id", id).Error("scheduled send failed")
			continue
		}
		sent++
	}
	return sent, nil
}

type CampaignInfo struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Subject       string  `json:"subject"`
	CampaignType  string  `json:"campaign_type"`
	Status        string  `json:"status"`
	TargetSegment *string `json:"target_segment"`
	CreatedAt     string  `json:"created_at"`
	ScheduledAt   *string `json:"scheduled_at,omitempty"`
	SentAt        *string `json:"sent_at"`
}

func infoOf(c fields.EmailCampaign) CampaignInfo {
	info := CampaignInfo{
		ID:            c.ID,
		Name:          c.Name,
		Subject:       c.Subject,
		CampaignType:  c.CampaignType,
		Status:        c.Status,
		TargetSegment: c.TargetSegment,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ScheduledAt != nil {
		info.ScheduledAt = fields.Ptr(c.ScheduledAt.UTC().Format(time.RFC3339))
	}
	if c.SentAt != nil {
		info.SentAt = fields.Ptr(c.SentAt.UTC().Format(time.RFC3339))
	}
	return info
}

type SendStats struct {
	TotalRecipients int64   `json:"total_recipients"`
	Sent            int64   `json:"sent"`
	Delivered       int64   `json:"delivered"`
	Opened          int64   `json:"opened"`
	Clicked         int64   `json:"clicked"`
	Failed          int64   `json:"failed"`
	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
}

type CampaignStats struct {
	Campaign CampaignInfo `json:"campaign"`
	Stats    SendStats    `json:"stats"`
}

func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*100*100) / 100
}

func (s *Service) Stats(ctx context.Context, id int64) (*CampaignStats, error) {
	c, err := s.campaign(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.Repo.StatusCounts(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not count sends")
	}
	st := SendStats{
		Sent:      counts[fields.SendSent],
		Delivered: counts[fields.SendDelivered],
		Opened:    counts[fields.SendOpened],
		Clicked:   counts[fields.SendClicked],
		Failed:    counts[fields.SendFailed],
	}
	for _, n := range counts {
		st.TotalRecipients += n
	}
	st.DeliveryRate = rate(st.Delivered, st.Sent)
	st.OpenRate = rate(st.Opened, st.Delivered)
	st.ClickRate = rate(st.Clicked, st.Opened)
	return &CampaignStats{Campaign: infoOf(*c), Stats: st}, nil
}

type CampaignListItem struct {
	CampaignInfo
	TotalRecipients int64 `json:"total_recipients"`
	SentCount       int64 `json:"sent_count"`
}

// List pages campaigns newest first. per_page is capped at 50.
func (s *Service) List(ctx context.Context, page, perPage int) ([]CampaignListItem, customers.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 50 {
		perPage = 50
	}
	rows, total, err := s.Repo.ListCampaigns(ctx, page, perPage)
	if err != nil {
		return nil, customers.Pagination{}, apperr.Wrap(err, apperr.ErrDatabase, "could not list campaigns")
	}
	out := make([]CampaignListItem, 0, len(rows))
	for _, r := range rows {
		item := CampaignListItem{CampaignInfo: infoOf(r.EmailCampaign), TotalRecipients: r.TotalRecipients, SentCount: r.SentCount}
		out = append(out, item)
	}
	pages := int(math.Ceil(float64(total) / float64(perPage)))
	return out, customers.Pagination{Page: page, Pages: pages, PerPage: perPage, Total: int(total)}, nil
}

// CustomRequest is the body of send-custom.
type CustomRequest struct {
	Subject       string `json:"subject" binding:"required"`
	Body          string `json:"body" binding:"required"`
	Segment       string `json:"segment"`
	ProductFilter string `json:"product_filter"`
	SenderName    string `json:"sender_name"`
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
}

type CustomResult struct {
	CampaignID      int64       `json:"campaign_id"`
	CampaignName    string      `json:"campaign_name"`
	Subject         string      `json:"subject"`
	Segment         string      `json:"segment"`
	TargetCustomers int         `json:"target_customers"`
	SendResult      *SendResult `json:"send_result"`
}

// SendCustom mails a free-form message to a segment, one customer, or the buyers of a product,
// tracked as an event campaign.
func (s *Service) SendCustom(ctx context.Context, req CustomRequest) (*CustomResult, error) {
	segment := req.Segment
	if segment == "" {
		segment = "all"
	}
	sender := req.SenderName
	if sender == "" {
		sender = "The Team"
	}
	recipients, target, err := s.audience(ctx, segment, req)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, apperr.Newf(apperr.ErrBadRequest, "No customers found for segment: %s", segment)
	}

	c := &fields.EmailCampaign{
		Name:          "Custom Email - " + titleCase(segment) + " - " + s.now().Format("2006-01-02 15:04"),
		Subject:       req.Subject,
		Template:      customTemplate(req.Body, sender),
		CampaignType:  fields.CampaignEvent,
		TargetSegment: target,
		Status:        fields.CampaignDraft,
	}
	if req.ProductFilter != "" {
		c.ProductFilter = fields.Ptr(req.ProductFilter)
	}
	if err := s.create(ctx, c, recipients); err != nil {
		return nil, err
	}
	res, err := s.Send(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &CustomResult{
		CampaignID:      c.ID,
		CampaignName:    c.Name,
		Subject:         req.Subject,
		Segment:         segment,
		TargetCustomers: len(recipients),
		SendResult:      res,
	}, nil
}

// audience resolves the recipients of a custom email and the segment recorded on its campaign.
func (s *Service) audience(ctx context.Context, segment string, req CustomRequest) ([]fields.Customer, *string, error) {
	switch segment {
	case "all":
		rows, err := s.Customers.CustomersWhere(ctx, nil, true)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load customers")
		}
		return rows, nil, nil
	case customers.SegmentLoyal, customers.SegmentHighValue, customers.SegmentFrequent, customers.SegmentAtRisk:
		rows, _, err := s.Segments.SegmentMembers(ctx, segment, true)
		if err != nil {
			return nil, nil, err
		}
		return rows, fields.Ptr(segment), nil
	case "individual":
		c, err := s.individual(ctx, req.CustomerID, req.CustomerEmail)
		if err != nil {
			return nil, nil, err
		}
		return []fields.Customer{*c}, nil, nil
	}
	if req.ProductFilter != "" {
		rows, err := s.Customers.ProductBuyers(ctx, req.ProductFilter, true)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load product buyers")
		}
		return rows, fields.Ptr(segmentProductSpecific), nil
	}
	return nil, nil, customers.ErrInvalidSegment
}

func (s *Service) individual(ctx context.Context, customerID, email string) (*fields.Customer, error) {
	if customerID == "" && email == "" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "customer_id or customer_email is required for individual segment")
	}
	var (
		c   *fields.Customer
		err error
	)
	if customerID != "" {
		c, err = s.Customers.GetCustomer(ctx, customerID)
	} else {
		c, err = s.Customers.FindCustomerByEmail(ctx, email)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Customer not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load customer")
	}
	if !c.HasEmail() {
		return nil, apperr.Newf(apperr.ErrBadRequest, "Customer has no email address")
	}
	return c, nil
}

// titleCase upper-cases the first letter of every word, where any non-letter separates words.
func titleCase(s string) string {
	out := []rune(s)
	prevLetter := false
	for i, r := range out {
		if unicode.IsLetter(r) {
			if prevLetter {
				out[i] = unicode.ToLower(r)
			} else {
				out[i] = unicode.ToUpper(r)
			}
			prevLetter = true
			continue
		}
		prevLetter = false
	}
	return string(out)
}
