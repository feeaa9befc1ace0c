// Package customers exposes customer profiles, purchase history, segments and KPIs built from
// ingested sales uploads.
package customers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/sirupsen/logrus"
)

// Repository is implemented by *store.Store.
type Repository interface {
	ListCustomers(ctx context.Context, page, perPage int) ([]fields.Customer, int, error)
	GetCustomer(ctx context.Context, customerID string) (*fields.Customer, error)
	CustomerPurchases(ctx context.Context, customerID string, limit, offset int) ([]fields.CustomerPurchase, int, error)
	UploadPurchases(ctx context.Context, uploadID int64) ([]fields.CustomerPurchase, error)
	CustomersByID(ctx context.Context, ids []string) ([]fields.Customer, error)
	CustomersWhere(ctx context.Context, cond sq.Sqlizer, withEmail bool) ([]fields.Customer, error)
	AverageSpent(ctx context.Context) (float64, error)
	CustomerTotals(ctx context.Context, createdSince, activeSince time.Time) (*store.CustomerTotals, error)
}

// Segment names accepted by Segment.
const (
	SegmentLoyal     = "loyal"
	SegmentHighValue = "high_value"
	SegmentFrequent  = "frequent"
	SegmentAtRisk    = "at_risk"
)

var ErrInvalidSegment = apperr.New("invalid_segment", http.StatusBadRequest, "Invalid segment type")

type Service struct {
	Repo   Repository
	Logger *logrus.Logger
	// Now is replaced in tests.
	Now func() time.Time
}

func New(repo Repository, logger *logrus.Logger) *Service {
	return &Service{Repo: repo, Logger: logger, Now: time.Now}
}

func (s *Service) today() time.Time {
	now := s.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

func paginate(page, perPage, total int) Pagination {
	pages := 0
	if perPage > 0 {
		pages = int(math.Ceil(float64(total) / float64(perPage)))
	}
	return Pagination{Page: page, Pages: pages, PerPage: perPage, Total: total}
}

func normalizePage(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = def
	}
	if perPage > 200 {
		perPage = 200
	}
	return page, perPage
}

func (s *Service) List(ctx context.Context, page, perPage int) ([]CustomerView, Pagination, error) {
	page, perPage = normalizePage(page, perPage, 50)
	rows, total, err := s.Repo.ListCustomers(ctx, page, perPage)
	if err != nil {
		return nil, Pagination{}, apperr.Wrap(err, apperr.ErrDatabase, "could not list customers")
	}
	out := make([]CustomerView, 0, len(rows))
	for _, c := range rows {
		out = append(out, viewOf(c))
	}
	return out, paginate(page, perPage, total), nil
}

func (s *Service) Profile(ctx context.Context, customerID string) (*Profile, error) {
	c, err := s.Repo.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Newf(apperr.ErrNotFound, "Customer not found")
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load customer")
	}
	recent, _, err := s.Repo.CustomerPurchases(ctx, customerID, 5, 0)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load purchases")
	}
	p := &Profile{CustomerView: viewOf(*c), RecentPurchases: []RecentPurchase{}}
	if c.TotalOrders > 0 {
		p.AverageOrderValue = c.TotalSpent.InexactFloat64() / float64(c.TotalOrders)
	}
	if c.LastPurchaseDate != nil {
		last := c.LastPurchaseDate.UTC()
		lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
		days := int(s.today().Sub(lastDay).Hours() / 24)
		p.DaysSinceLastPurchase = &days
	}
	for _, pr := range recent {
		p.RecentPurchases = append(p.RecentPurchases, RecentPurchase{
			InvoiceID:   pr.InvoiceID,
			InvoiceDate: pr.InvoiceDate.Format(dateLayout),
			ItemName:    pr.ItemName,
			Qty:         pr.Qty,
			Revenue:     pr.Revenue.InexactFloat64(),
		})
	}
	return p, nil
}

func (s *Service) Purchases(ctx context.Context, customerID string, page, perPage int) ([]PurchaseView, Pagination, error) {
	page, perPage = normalizePage(page, perPage, 20)
	rows, total, err := s.Repo.CustomerPurchases(ctx, customerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, Pagination{}, apperr.Wrap(err, apperr.ErrDatabase, "could not load purchases")
	}
	out := make([]PurchaseView, 0, len(rows))
	for _, p := range rows {
		out = append(out, PurchaseView{
			ID:          p.ID,
			InvoiceID:   p.InvoiceID,
			InvoiceDate: p.InvoiceDate.Format(dateLayout),
			ItemID:      p.ItemID,
			ItemName:    p.ItemName,
			Qty:         p.Qty,
			UnitPrice:   p.UnitPrice.InexactFloat64(),
			Revenue:     p.Revenue.InexactFloat64(),
			CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, paginate(page, perPage, total), nil
}

// SegmentCondition returns the filter and human readable criteria of a segment.
func (s *Service) SegmentCondition(ctx context.Context, segment string) (sq.Sqlizer, string, error) {
	today := s.today()
	switch segment {
	case SegmentLoyal:
		return sq.And{sq.GtOrEq{"total_orders": 5}, sq.GtOrEq{"total_spent": 1000}}, "orders >= 5 AND total_spent >= 1000", nil
	case SegmentHighValue:
		avg, err := s.Repo.AverageSpent(ctx)
		if err != nil {
			return nil, "", apperr.Wrap(err, apperr.ErrDatabase, "could not compute average spend")
		}
		threshold := avg * 1.5
		return sq.GtOrEq{"total_spent": threshold}, fmt.Sprintf("total_spent >= %.2f (1.5x average)", threshold), nil
	case SegmentFrequent:
		return sq.GtOrEq{"last_purchase_date": today.AddDate(0, 0, -30)}, "last_purchase_date >= 30 days ago", nil
	case SegmentAtRisk:
		return sq.And{sq.Lt{"last_purchase_date": today.AddDate(0, 0, -90)}, sq.Gt{"total_orders": 0}},
			"last_purchase_date < 90 days ago AND total_orders > 0", nil
	}
	return nil, "", ErrInvalidSegment
}

// SegmentMembers loads the customers of a segment. withEmail keeps only reachable customers.
func (s *Service) SegmentMembers(ctx context.Context, segment string, withEmail bool) ([]fields.Customer, string, error) {
	cond, criteria, err := s.SegmentCondition(ctx, segment)
	if err != nil {
		return nil, "", err
	}
	rows, err := s.Repo.CustomersWhere(ctx, cond, withEmail)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.ErrDatabase, "could not load segment")
	}
	return rows, criteria, nil
}

func (s *Service) Segment(ctx context.Context, segment string) (*SegmentResult, error) {
	rows, criteria, err := s.SegmentMembers(ctx, segment, false)
	if err != nil {
		return nil, err
	}
	res := &SegmentResult{Segment: segment, Criteria: criteria, Count: len(rows), Customers: []SegmentCustomer{}}
	for _, c := range rows {
		sc := SegmentCustomer{
			CustomerID:  c.CustomerID,
			Name:        c.Name,
			Email:       c.Email,
			TotalOrders: c.TotalOrders,
			TotalSpent:  c.TotalSpent.InexactFloat64(),
		}
		if c.LastPurchaseDate != nil {
			d := c.LastPurchaseDate.Format(dateLayout)
			sc.LastPurchase = &d
		}
		res.Customers = append(res.Customers, sc)
	}
	return res, nil
}

// UploadAnalysis reports which customers of an ingested upload are new. A customer is new when
// its record was created by the ingest of this upload.
func (s *Service) UploadAnalysis(ctx context.Context, uploadID int64) (*UploadAnalysis, error) {
	purchases, err := s.Repo.UploadPurchases(ctx, uploadID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load upload purchases")
	}
	out := &UploadAnalysis{Customers: []UploadCustomer{}}
	if len(purchases) == 0 {
		return out, nil
	}

	ingestedAt := purchases[0].CreatedAt
	revenue := map[string]float64{}
	invoices := map[string]map[string]struct{}{}
	ids := []string{}
	for _, p := range purchases {
		if _, ok := invoices[p.CustomerID]; !ok {
			invoices[p.CustomerID] = map[string]struct{}{}
			ids = append(ids, p.CustomerID)
		}
		invoices[p.CustomerID][p.InvoiceID] = struct{}{}
		revenue[p.CustomerID] += p.Revenue.InexactFloat64()
	}
	rows, err := s.Repo.CustomersByID(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load customers")
	}
	out.UniqueCustomers = len(ids)
	for _, c := range rows {
		isNew := !c.CreatedAt.Before(ingestedAt.Add(-time.Second))
		if isNew {
			out.NewCustomers++
		} else {
			out.RepeatCustomers++
		}
		out.Customers = append(out.Customers, UploadCustomer{
			CustomerID:    c.CustomerID,
			Name:          c.Name,
			Email:         c.Email,
			IsNewCustomer: isNew,
			UploadRevenue: round(revenue[c.CustomerID], 2),
			UploadOrders:  len(invoices[c.CustomerID]),
			TotalOrders:   c.TotalOrders,
			TotalSpent:    c.TotalSpent.InexactFloat64(),
		})
	}
	return out, nil
}

func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	now := s.Now().UTC()
	t, err := s.Repo.CustomerTotals(ctx, now.AddDate(0, 0, -30), s.today().AddDate(0, 0, -90))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not compute customer metrics")
	}
	m := &Metrics{
		TotalCustomers:  t.Total,
		NewCustomers30d: t.NewSince,
		ActiveCustomers: t.ActiveSince,
		AverageSpent:    round(t.AvgSpent, 2),
		AverageOrders:   round(t.AvgOrders, 1),
	}
	if t.Total > 0 {
		m.ChurnRate = round(float64(t.Total-t.ActiveSince)/float64(t.Total)*100, 2)
	}
	return m, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
