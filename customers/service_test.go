package customers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/store"
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

func seeded(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := storetest.New(t)
	lines := []store.PurchaseInput{}
	for i, d := range []string{"2024-06-01", "2024-06-10", "2024-06-15", "2024-06-20", "2024-06-28"} {
		lines = append(lines, store.PurchaseInput{
			InvoiceID:     "A" + string(rune('0'+i)), InvoiceDate: day(d), CustomerID: "C1", CustomerName: "Amal",
			CustomerEmail: "amal@example.com", ItemID: "SKU1", ItemName: "Coffee Beans", Qty: 5, UnitPrice: decimal.NewFromInt(50),
		})
	}
	lines = append(lines,
		store.PurchaseInput{InvoiceID: "B1", InvoiceDate: day("2024-01-01"), CustomerID: "C2", ItemID: "SKU2", Qty: 1, UnitPrice: decimal.NewFromInt(100)},
		store.PurchaseInput{InvoiceID: "C1", InvoiceDate: day("2024-05-15"), CustomerID: "C3", CustomerEmail: "c3@example.com", ItemID: "SKU3", Qty: 2, UnitPrice: decimal.NewFromInt(25)},
	)
	uploadID := storetest.Upload(t, st, "sales")
	n, err := st.IngestPurchases(context.Background(), uploadID, lines)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := New(st, logger)
	s.Now = func() time.Time { return fixedNow }
	return s, st
}

func TestSegments(t *testing.T) {
	s, _ := seeded(t)
	tests := []struct {
		segment string
		want    []string
	}{
		{SegmentLoyal, []string{"C1"}},
		{SegmentHighValue, []string{"C1"}},
		{SegmentFrequent, []string{"C1"}},
		{SegmentAtRisk, []string{"C2"}},
	}
	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			res, err := s.Segment(context.Background(), tt.segment)
			require.NoError(t, err)
			ids := []string{}
			for _, c := range res.Customers {
				ids = append(ids, c.CustomerID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), res.Count)
			assert.NotEmpty(t, res.Criteria)
		})
	}

	_, err := s.Segment(context.Background(), "vip")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
	assert.Equal(t, "Invalid segment type", apperr.Message(err))
}

func TestHighValueCriteria(t *testing.T) {
	s, _ := seeded(t)
	_, criteria, err := s.SegmentCondition(context.Background(), SegmentHighValue)
	require.NoError(t, err)
	assert.Equal(t, "total_spent >= 700.00 (1.5x average)", criteria)
}

func TestSegmentMembersWithEmail(t *testing.T) {
	s, _ := seeded(t)
	rows, _, err := s.SegmentMembers(context.Background(), SegmentAtRisk, true)
	require.NoError(t, err)
	assert.Empty(t, rows, "C2 has no email")
}

func TestMetrics(t *testing.T) {
	s, _ := seeded(t)
	m, err := s.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalCustomers)
	assert.Equal(t, 3, m.NewCustomers30d)
	assert.Equal(t, 2, m.ActiveCustomers)
	assert.Equal(t, 33.33, m.ChurnRate)
	assert.Equal(t, 466.67, m.AverageSpent)
	assert.Equal(t, 2.3, m.AverageOrders)
}

func TestProfileAndPurchases(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()
	p, err := s.Profile(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 250.0, p.AverageOrderValue)
	require.NotNil(t, p.DaysSinceLastPurchase)
	assert.Equal(t, 2, *p.DaysSinceLastPurchase)
	require.Len(t, p.RecentPurchases, 5)
	assert.Equal(t, "2024-06-28", p.RecentPurchases[0].InvoiceDate)
	assert.Equal(t, "2024-06-01", *p.FirstPurchaseDate)

	_, err = s.Profile(ctx, "nobody")
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))

	rows, pg, err := s.Purchases(ctx, "C1", 3, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, Pagination{Page: 3, Pages: 3, PerPage: 2, Total: 5}, pg)
	assert.Equal(t, "2024-06-01", rows[0].InvoiceDate)
}

func TestUploadAnalysis(t *testing.T) {
	s, _ := seeded(t)
	res, err := s.UploadAnalysis(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UniqueCustomers)
	assert.Equal(t, 3, res.NewCustomers)
	assert.Equal(t, 0, res.RepeatCustomers)

	empty, err := s.UploadAnalysis(context.Background(), 42)
	require.NoError(t, err)
	assert.Zero(t, empty.UniqueCustomers)
	assert.NotNil(t, empty.Customers)
}

func TestHandlers(t *testing.T) {
	s, _ := seeded(t)
	app := fiber.New()
	s.Mount(app.Group("/api/customers"))

	tests := []struct {
		path   string
		want   int
		substr string
	}{
		{"/api/customers?per_page=2", http.StatusOK, `"pages":2`},
		{"/api/customers/metrics", http.StatusOK, `"churn_rate":33.33`},
		{"/api/customers/segments/loyal", http.StatusOK, `"count":1`},
		{"/api/customers/segments/nope", http.StatusBadRequest, "Invalid segment type"},
		{"/api/customers/upload/1", http.StatusOK, `"unique_customers":3`},
		{"/api/customers/C1", http.StatusOK, `"average_order_value":250`},
		{"/api/customers/C9", http.StatusNotFound, "Customer not found"},
		{"/api/customers/C1/purchases?per_page=2", http.StatusOK, `"total":5`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			body, _ := io.ReadAll(res.Body)
			assert.Equal(t, tt.want, res.StatusCode, string(body))
			assert.Contains(t, string(body), tt.substr)
		})
	}
}
