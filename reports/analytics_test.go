package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store/storetest"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

type memRepo struct {
	customers []fields.Customer
	purchases []fields.CustomerPurchase
	err       error
}

func (m *memRepo) AllCustomers(context.Context) ([]fields.Customer, error) { return m.customers, m.err }

func (m *memRepo) AllPurchases(context.Context) ([]fields.CustomerPurchase, error) {
	return m.purchases, nil
}

func customer(id string, spent int64, created, last string) fields.Customer {
	l := day(last)
	return fields.Customer{CustomerID: id, TotalSpent: decimal.NewFromInt(spent), CreatedAt: day(created), LastPurchaseDate: &l}
}

func purchase(invoice, date, item string, qty int, price int64) fields.CustomerPurchase {
	return fields.CustomerPurchase{InvoiceID: invoice, InvoiceDate: day(date), ItemName: item, Qty: qty,
		UnitPrice: decimal.NewFromInt(price), Revenue: decimal.NewFromInt(price * int64(qty))}
}

func newService(repo Repository) *Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := New(repo, logger)
	s.Now = func() time.Time { return fixedNow }
	return s
}

func sample() *memRepo {
	return &memRepo{
		customers: []fields.Customer{
			customer("C1", 2000, "2024-01-05", "2024-06-28"),
			customer("C2", 800, "2024-01-20", "2024-03-01"),
			customer("C3", 100, "2024-02-10", "2024-05-15"),
		},
		purchases: []fields.CustomerPurchase{
			purchase("INV1", "2024-06-01", "iPhone 15", 1, 1000),
			purchase("INV1", "2024-06-01", "AirPods Pro", 2, 250),
			purchase("INV2", "2024-06-03", "Coffee Beans", 10, 10),
			purchase("INV3", "2024-06-03", "MacBook Air", 1, 1200),
		},
	}
}

func TestAnalytics(t *testing.T) {
	a, err := newService(sample()).Analytics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{TotalRevenue: 2800, TotalCustomers: 3, TotalOrders: 3, AvgOrderValue: 933.33,
		GeneratedDate: "2024-06-30 12:00"}, a.Summary)

	assert.Equal(t, []DailyRevenue{{"2024-06-01", 1500}, {"2024-06-03", 1300}}, a.Revenue.DailyTrends)
	require.Len(t, a.Revenue.TopProducts, 4)
	assert.Equal(t, ProductRevenue{"MacBook Air", 1200}, a.Revenue.TopProducts[0])
	assert.Equal(t, 2200.0, a.Revenue.Distribution.Premium)
	assert.Equal(t, 600.0, a.Revenue.Distribution.Standard)
	assert.Equal(t, CategoryRevenue{"Computers", 1200}, a.Revenue.Categories[0])

	assert.Equal(t, Segments{HighValue: 1, MediumValue: 1, LowValue: 1}, a.Customers.Segments)
	assert.Equal(t, []Acquisition{{"Jan 2024", 2}, {"Feb 2024", 1}}, a.Customers.Acquisition)
	assert.Equal(t, 66.7, a.Customers.RetentionRate)
	assert.Equal(t, 1, a.Customers.ChurnRisk)

	inv := a.Inventory
	assert.Equal(t, []ProductUnits{{"Coffee Beans", 10}, {"AirPods Pro", 2}, {"MacBook Air", 1}, {"iPhone 15", 1}},
		inv.Turnover.FastMovers)
	assert.Equal(t, []ProductUnits{{"AirPods Pro", 2}, {"MacBook Air", 1}, {"iPhone 15", 1}}, inv.Turnover.SlowMovers)
	assert.Equal(t, 14, inv.Movement.TotalOutbound)
	assert.Equal(t, 4.7, inv.Movement.AvgDailyMovement)
	assert.Equal(t, "2024-06-03", inv.Movement.PeakDay)
}

func TestAnalyticsErrors(t *testing.T) {
	repo := sample()
	repo.purchases = nil
	_, err := newService(repo).Analytics(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	_, err = newService(&memRepo{err: errors.New("connection reset")}).Analytics(context.Background())
	assert.ErrorIs(t, err, apperr.ErrDatabase)
}

func TestWritePDF(t *testing.T) {
	a, err := newService(sample()).Analytics(context.Background())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, a))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, "$1,234.50", money(1234.5))
}

func TestHandlers(t *testing.T) {
	app := fiber.New()
	newService(sample()).Mount(app.Group("/api/reports"))
	empty := fiber.New()
	newService(storetest.New(t)).Mount(empty.Group("/api/reports"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/reports/pdf", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="business_report_20240630_1200.pdf"`, resp.Header.Get("Content-Disposition"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/reports/analytics", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_revenue":2800`)

	resp, err = empty.Test(httptest.NewRequest(http.MethodGet, "/api/reports/analytics", nil), -1)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No data available for report generation"}`, string(body))
}
