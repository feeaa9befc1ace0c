// Package reports builds business analytics over ingested customers and purchases and renders
// them as JSON or a PDF report.
package reports

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const dateLayout = "2006-01-02"

// Segment thresholds on total spend.
const (
	highValueSpend = 1500
	lowValueSpend  = 500
	premiumPrice   = 500
)

var ErrNoData = apperr.New("no_data", http.StatusNotFound, "No data available for report generation")

// Repository is implemented by *store.Store.
type Repository interface {
	AllCustomers(ctx context.Context) ([]fields.Customer, error)
	AllPurchases(ctx context.Context) ([]fields.CustomerPurchase, error)
}

type Service struct {
	Repo   Repository
	Logger *logrus.Logger
	Now    func() time.Time
}

func New(repo Repository, logger *logrus.Logger) *Service {
	return &Service{Repo: repo, Logger: logger, Now: time.Now}
}

type Summary struct {
	TotalRevenue   float64 `json:"total_revenue"`
	TotalCustomers int     `json:"total_customers"`
	TotalOrders    int     `json:"total_orders"`
	AvgOrderValue  float64 `json:"avg_order_value"`
	GeneratedDate  string  `json:"generated_date"`
}

type DailyRevenue struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

type ProductRevenue struct {
	ItemName string  `json:"item_name"`
	Revenue  float64 `json:"revenue"`
}

type CategoryRevenue struct {
	Category string  `json:"category"`
	Revenue  float64 `json:"revenue"`
}

type Revenue struct {
	DailyTrends  []DailyRevenue    `json:"daily_trends"`
	TopProducts  []ProductRevenue  `json:"top_products"`
	Categories   []CategoryRevenue `json:"category_revenue"`
	Distribution struct {
		Premium  float64 `json:"premium_products"`
		Standard float64 `json:"standard_products"`
	} `json:"revenue_distribution"`
}

type Segments struct {
	HighValue   int `json:"high_value"`
	MediumValue int `json:"medium_value"`
	LowValue    int `json:"low_value"`
}

type Acquisition struct {
	Month        string `json:"month"`
	NewCustomers int    `json:"new_customers"`
}

type Customers struct {
	Segments      Segments      `json:"segments"`
	Acquisition   []Acquisition `json:"acquisition_trends"`
	RetentionRate float64       `json:"retention_rate"`
	ChurnRisk     int           `json:"churn_risk_customers"`
}

type ProductUnits struct {
	ItemName string `json:"item_name"`
	Qty      int    `json:"qty"`
}

type Inventory struct {
	Turnover struct {
		FastMovers []ProductUnits `json:"fast_movers"`
		SlowMovers []ProductUnits `json:"slow_movers"`
	} `json:"inventory_turnover"`
	Movement struct {
		TotalOutbound    int     `json:"total_outbound_units"`
		AvgDailyMovement float64 `json:"avg_daily_movement"`
		PeakDay          string  `json:"peak_movement_day"`
	} `json:"inbound_outbound"`
}

type Analytics struct {
	Summary   Summary   `json:"summary_metrics"`
	Revenue   Revenue   `json:"revenue_analytics"`
	Customers Customers `json:"customer_analytics"`
	Inventory Inventory `json:"inventory_analytics"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Analytics loads customers and purchases and computes every section concurrently. Both tables
// must hold rows.
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	var (
		customers []fields.Customer
		purchases []fields.CustomerPurchase
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		customers, err = s.Repo.AllCustomers(gctx)
		return err
	})
	g.Go(func() (err error) {
		purchases, err = s.Repo.AllPurchases(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load report data")
	}
	if len(customers) == 0 || len(purchases) == 0 {
		return nil, ErrNoData
	}

	now := s.Now().UTC()
	a := &Analytics{}
	var sections errgroup.Group
	sections.Go(func() error {
		a.Summary = summarize(customers, purchases, now)
		return nil
	})
	sections.Go(func() error {
		a.Revenue = revenue(purchases)
		return nil
	})
	sections.Go(func() error {
		a.Customers = customerAnalytics(customers, now)
		return nil
	})
	sections.Go(func() error {
		a.Inventory = inventory(purchases)
		return nil
	})
	_ = sections.Wait()
	s.Logger.WithFields(logrus.Fields{"customers": len(customers), "purchases": len(purchases)}).Info("report analytics computed")
	return a, nil
}

func summarize(customers []fields.Customer, purchases []fields.CustomerPurchase, now time.Time) Summary {
	var total float64
	invoices := map[string]struct{}{}
	for _, p := range purchases {
		total += p.Revenue.InexactFloat64()
		invoices[p.InvoiceID] = struct{}{}
	}
	s := Summary{
		TotalRevenue:   round(total, 2),
		TotalCustomers: len(customers),
		TotalOrders:    len(invoices),
		GeneratedDate:  now.Format("2006-01-02 15:04"),
	}
	if s.TotalOrders > 0 {
		s.AvgOrderValue = round(total/float64(s.TotalOrders), 2)
	}
	return s
}

// category buckets products for the revenue chart.
func category(item string) string {
	item = strings.ToLower(item)
	switch {
	case strings.Contains(item, "phone"):
		return "Phones"
	case strings.Contains(item, "macbook"), strings.Contains(item, "ipad"), strings.Contains(item, "laptop"):
		return "Computers"
	case strings.Contains(item, "watch"), strings.Contains(item, "airpods"):
		return "Accessories"
	}
	return "Others"
}

func revenue(purchases []fields.CustomerPurchase) Revenue {
	daily := map[string]float64{}
	products := map[string]float64{}
	categories := map[string]float64{}
	var r Revenue
	for _, p := range purchases {
		v := p.Revenue.InexactFloat64()
		daily[p.InvoiceDate.UTC().Format(dateLayout)] += v
		products[p.ItemName] += v
		categories[category(p.ItemName)] += v
		if p.UnitPrice.InexactFloat64() > premiumPrice {
			r.Distribution.Premium += v
		} else {
			r.Distribution.Standard += v
		}
	}
	r.Distribution.Premium = round(r.Distribution.Premium, 2)
	r.Distribution.Standard = round(r.Distribution.Standard, 2)

	r.DailyTrends = make([]DailyRevenue, 0, len(daily))
	for d, v := range daily {
		r.DailyTrends = append(r.DailyTrends, DailyRevenue{Date: d, Revenue: round(v, 2)})
	}
	sort.Slice(r.DailyTrends, func(i, j int) bool { return r.DailyTrends[i].Date < r.DailyTrends[j].Date })

	r.TopProducts = make([]ProductRevenue, 0, len(products))
	for name, v := range products {
		r.TopProducts = append(r.TopProducts, ProductRevenue{ItemName: name, Revenue: round(v, 2)})
	}
	sort.Slice(r.TopProducts, func(i, j int) bool {
		if r.TopProducts[i].Revenue != r.TopProducts[j].Revenue {
			return r.TopProducts[i].Revenue > r.TopProducts[j].Revenue
		}
		return r.TopProducts[i].ItemName < r.TopProducts[j].ItemName
	})
	if len(r.TopProducts) > 5 {
		r.TopProducts = r.TopProducts[:5]
	}

	r.Categories = make([]CategoryRevenue, 0, len(categories))
	for c, v := range categories {
		r.Categories = append(r.Categories, CategoryRevenue{Category: c, Revenue: round(v, 2)})
	}
	sort.Slice(r.Categories, func(i, j int) bool { return r.Categories[i].Revenue > r.Categories[j].Revenue })
	return r
}

func customerAnalytics(customers []fields.Customer, now time.Time) Customers {
	var out Customers
	activeSince := now.AddDate(0, 0, -90)
	churnBefore := now.AddDate(0, 0, -60)
	months := map[string]int{}
	active := 0
	for _, c := range customers {
		spent := c.TotalSpent.InexactFloat64()
		switch {
		case spent > highValueSpend:
			out.Segments.HighValue++
		case spent >= lowValueSpend:
			out.Segments.MediumValue++
		default:
			out.Segments.LowValue++
		}
		if !c.CreatedAt.IsZero() {
			months[c.CreatedAt.UTC().Format("2006-01")]++
		}
		if c.LastPurchaseDate != nil {
			if !c.LastPurchaseDate.Before(activeSince) {
				active++
			}
			if c.LastPurchaseDate.Before(churnBefore) {
				out.ChurnRisk++
			}
		}
	}
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out.Acquisition = make([]Acquisition, 0, len(keys))
	for _, k := range keys {
		m, _ := time.Parse("2006-01", k)
		out.Acquisition = append(out.Acquisition, Acquisition{Month: m.Format("Jan 2006"), NewCustomers: months[k]})
	}
	if len(customers) > 0 {
		out.RetentionRate = round(float64(active)/float64(len(customers))*100, 1)
	}
	return out
}

func inventory(purchases []fields.CustomerPurchase) Inventory {
	var inv Inventory
	units := map[string]int{}
	perDay := map[string]int{}
	var first, last time.Time
	for i, p := range purchases {
		units[p.ItemName] += p.Qty
		day := p.InvoiceDate.UTC().Truncate(24 * time.Hour)
		perDay[day.Format(dateLayout)] += p.Qty
		inv.Movement.TotalOutbound += p.Qty
		if i == 0 || day.Before(first) {
			first = day
		}
		if i == 0 || day.After(last) {
			last = day
		}
	}
	velocity := make([]ProductUnits, 0, len(units))
	for name, q := range units {
		velocity = append(velocity, ProductUnits{ItemName: name, Qty: q})
	}
	sort.Slice(velocity, func(i, j int) bool {
		if velocity[i].Qty != velocity[j].Qty {
			return velocity[i].Qty > velocity[j].Qty
		}
		return velocity[i].ItemName < velocity[j].ItemName
	})
	inv.Turnover.FastMovers = velocity[:min(5, len(velocity))]
	inv.Turnover.SlowMovers = velocity[max(0, len(velocity)-3):]

	days := int(last.Sub(first).Hours()/24) + 1
	inv.Movement.AvgDailyMovement = round(float64(inv.Movement.TotalOutbound)/float64(days), 1)
	peak := -1
	for d, q := range perDay {
		if q > peak || (q == peak && d < inv.Movement.PeakDay) {
			peak, inv.Movement.PeakDay = q, d
		}
	}
	return inv
}
