package email

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/customers"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/adonese/bizpilot/store/storetest"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type message struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []message
	fail map[string]bool
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to] {
		return errors.New("550 mailbox unavailable")
	}
	m.sent = append(m.sent, message{to, subject, body})
	return nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// newService seeds three customers: C1 is loyal and reachable, C2 is inactive without an
// email, C3 bought once in May.
func newService(t *testing.T) (*Service, *recordingMailer) {
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
		store.PurchaseInput{InvoiceID: "C1", InvoiceDate: day("2024-05-15"), CustomerID: "C3", CustomerName: "Sami",
			CustomerEmail: "sami@example.com", ItemID: "SKU3", ItemName: "Green Tea", Qty: 2, UnitPrice: decimal.NewFromInt(25)},
	)
	_, err := st.IngestPurchases(context.Background(), storetest.Upload(t, st, fields.CSVSales), lines)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	segments := customers.New(st, logger)
	segments.Now = func() time.Time { return fixedNow }
	mailer := &recordingMailer{fail: map[string]bool{}}
	svc := &Service{
		Repo:      &Repo{DB: storetest.Gorm(t, st)},
		Customers: st,
		Segments:  segments,
		Mailer:    mailer,
		Logger:    logger,
		Now:       func() time.Time { return fixedNow },
	}
	return svc, mailer
}

func TestLoyaltyCampaign(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()

	c, err := s.CreateLoyalty(ctx, CampaignRequest{Name: "Thanks", Subject: "A gift"})
	require.NoError(t, err)
	assert.Equal(t, fields.CampaignDraft, c.Status)
	assert.Equal(t, "loyal", *c.TargetSegment)
	assert.Contains(t, c.Template, "{{ customer_name }}")

	res, err := s.Send(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, &SendResult{CampaignID: c.ID, SentCount: 1, TotalRecipients: 1}, res)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "amal@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "Dear Amal,")
	assert.Contains(t, mailer.sent[0].body, "LOYAL20")

	_, err = s.Send(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotDraft)

	st, err := s.Stats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, fields.CampaignSent, st.Campaign.Status)
	assert.NotNil(t, st.Campaign.SentAt)
	assert.Equal(t, int64(1), st.Stats.TotalRecipients)
	assert.Equal(t, int64(1), st.Stats.Sent)
	assert.Equal(t, 0.0, st.Stats.DeliveryRate)

	_, err = s.Stats(ctx, 999)
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))
}

func TestWinbackAndPromotionAudiences(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	recipients := func(id int64) int {
		st, err := s.Stats(ctx, id)
		require.NoError(t, err)
		return int(st.Stats.TotalRecipients)
	}

	c, err := s.CreateWinback(ctx, CampaignRequest{Name: "Miss you", Subject: "Come back"})
	require.NoError(t, err)
	// C2 is inactive but has no email.
	assert.Equal(t, 0, recipients(c.ID))

	days := 30
	c, err = s.CreateWinback(ctx, CampaignRequest{Name: "Miss you", Subject: "Come back", InactiveDays: &days})
	require.NoError(t, err)
	assert.Equal(t, 1, recipients(c.ID))
	assert.Contains(t, c.Template, "COMEBACK25")

	c, err = s.CreatePromotion(ctx, CampaignRequest{Name: "Beans", Subject: "New roast", ProductFilter: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, 1, recipients(c.ID))
	assert.Equal(t, "coffee", *c.ProductFilter)
	assert.Equal(t, "product_specific", *c.TargetSegment)

	c, err = s.CreatePromotion(ctx, CampaignRequest{Name: "Beans", Subject: "New roast", ProductFilter: "coffee", TargetCustomers: "all"})
	require.NoError(t, err)
	assert.Equal(t, 2, recipients(c.ID))

	_, err = s.CreatePromotion(ctx, CampaignRequest{Name: "Beans", Subject: "New roast"})
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestSendRecordsFailures(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()
	mailer.fail["sami@example.com"] = true

	res, err := s.SendCustom(ctx, CustomRequest{Subject: "Hello", Body: "News"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TargetCustomers)
	assert.Equal(t, 1, res.SendResult.SentCount)
	assert.Equal(t, 1, res.SendResult.FailedCount)

	st, err := s.Stats(ctx, res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Stats.Failed)
	assert.Equal(t, fields.CampaignEvent, st.Campaign.CampaignType)
}

func TestSendCustom(t *testing.T) {
	tests := []struct {
		name    string
		req     CustomRequest
		wantErr string
		want    int
	}{
		{"all", CustomRequest{}, "", 2},
		{"loyal", CustomRequest{Segment: "loyal"}, "", 1},
		{"at risk without email", CustomRequest{Segment: "at_risk"}, "No customers found for segment: at_risk", 0},
		{"individual needs id", CustomRequest{Segment: "individual"}, "customer_id or customer_email is required for individual segment", 0},
		{"individual unknown", CustomRequest{Segment: "individual", CustomerID: "C9"}, "Customer not found", 0},
		{"individual no email", CustomRequest{Segment: "individual", CustomerID: "C2"}, "Customer has no email address", 0},
		{"individual by email", CustomRequest{Segment: "individual", CustomerEmail: "SAMI@example.com"}, "", 1},
		{"product fallback", CustomRequest{Segment: "tea-lovers", ProductFilter: "tea"}, "", 1},
		{"unknown segment", CustomRequest{Segment: "vip"}, "Invalid segment type", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mailer := newService(t)
			tt.req.Subject, tt.req.Body = "Hi", "Body text"
			res, err := s.SendCustom(context.Background(), tt.req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperr.Message(err))
				assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.TargetCustomers)
			assert.Len(t, mailer.sent, tt.want)
			assert.Contains(t, mailer.sent[0].body, "Best regards,\nThe Team")
		})
	}
}

func TestCustomCampaignName(t *testing.T) {
	s, _ := newService(t)
	res, err := s.SendCustom(context.Background(), CustomRequest{Subject: "Hi", Body: "x", Segment: "high_value"})
	require.NoError(t, err)
	assert.Equal(t, "Custom Email - High_Value - 2024-06-30 12:00", res.CampaignName)
}

func TestScheduledCampaign(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()
	at := fixedNow.Add(time.Hour)

	c, err := s.CreateLoyalty(ctx, CampaignRequest{Name: "Later", Subject: "Soon", ScheduledAt: &at})
	require.NoError(t, err)
	assert.Equal(t, fields.CampaignScheduled, c.Status)

	_, err = s.Send(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotDraft)
	n, err := s.SendDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	s.Now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	n, err = s.SendDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, mailer.sent, 1)

	n, err = s.SendDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListCampaigns(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.CreateLoyalty(ctx, CampaignRequest{Name: "Loyal", Subject: "Gift"})
		require.NoError(t, err)
	}
	rows, p, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, customers.Pagination{Page: 1, Pages: 2, PerPage: 2, Total: 3}, p)
	assert.Equal(t, int64(1), rows[0].TotalRecipients)
	assert.Equal(t, int64(0), rows[0].SentCount)

	_, p, err = s.List(ctx, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, p.PerPage)
	assert.Equal(t, 1, p.Page)
}

func TestTemplates(t *testing.T) {
	body := loyaltyTemplate(15, map[string]any{"promo_code": "VIP", "expires": "2025-01-31"})
	assert.Contains(t, body, "exclusive 15% discount")
	assert.Contains(t, body, "Use promo code: VIP")
	assert.Contains(t, body, "Valid until: 2025-01-31")

	body = promotionTemplate("Tea", 10, nil)
	assert.Contains(t, body, "🎉 10% off - Limited Time Only!")

	assert.Equal(t, "\nDear Valued Customer,\n\nhi\n\nBest regards,\nMe\n", personalize(customTemplate("hi", "Me"), ""))
	assert.Equal(t, "High_Value", titleCase("high_value"))
	assert.Equal(t, "At_Risk", titleCase("AT_RISK"))
}

func TestHandlers(t *testing.T) {
	s, _ := newService(t)
	app := fiber.New()
	deny := func(c *fiber.Ctx) error {
		if c.Get("X-Admin-Key") != "secret" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		return c.Next()
	}
	s.Mount(app.Group("/api/email"), deny)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		admin    bool
		wantCode int
		wantBody string
	}{
		{"guarded", http.MethodPost, "/api/email/loyalty-promotion", `{"name":"a","subject":"b"}`, false, http.StatusUnauthorized, ""},
		{"empty body", http.MethodPost, "/api/email/loyalty-promotion", ``, true, http.StatusBadRequest, `"JSON data required"`},
		{"missing fields", http.MethodPost, "/api/email/win-back", `{}`, true, http.StatusBadRequest, `"Missing required fields: ['name', 'subject']"`},
		{"missing product", http.MethodPost, "/api/email/product-promotion", `{"name":"a","subject":"b"}`, true, http.StatusBadRequest, `"Missing required fields: ['product_filter']"`},
		{"created and sent", http.MethodPost, "/api/email/loyalty-promotion", `{"name":"a","subject":"b","auto_send":true}`, true, http.StatusCreated, `"sent_count":1`},
		{"scheduled", http.MethodPost, "/api/email/win-back", `{"name":"a","subject":"b","scheduled_at":"2030-01-01T00:00:00Z"}`, true, http.StatusCreated, `"status":"scheduled"`},
		{"send again", http.MethodPost, "/api/email/send/1", ``, true, http.StatusBadRequest, `Campaign already sent or not in draft status`},
		{"send unknown", http.MethodPost, "/api/email/send/99", ``, true, http.StatusNotFound, `Campaign not found`},
		{"custom", http.MethodPost, "/api/email/send-custom", `{"subject":"s","body":"b","segment":"loyal"}`, true, http.StatusOK, `"target_customers":1`},
		{"stats", http.MethodGet, "/api/email/campaigns/1/stats", ``, false, http.StatusOK, `"sent":1`},
		{"list", http.MethodGet, "/api/email/campaigns?per_page=2", ``, false, http.StatusOK, `"total":3`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.admin {
				req.Header.Set("X-Admin-Key", "secret")
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.wantCode, resp.StatusCode, string(body))
			if tt.wantBody != "" {
				assert.Contains(t, string(body), tt.wantBody)
			}
		})
	}
}
