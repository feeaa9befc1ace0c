package csvdata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/cache"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/adonese/bizpilot/store/storetest"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeGenerator) {
	t.Helper()
	st := storetest.New(t)
	mem, err := cache.NewMemory(1 << 20)
	require.NoError(t, err)
	t.Cleanup(mem.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gen := &fakeGenerator{reply: "1) revenue is concentrated in item A"}
	return &Service{
		Repo:     st,
		LLM:      gen,
		Cache:    mem,
		Folder:   t.TempDir(),
		MaxRows:  100,
		MaxBytes: 1 << 20,
		Logger:   logger,
	}, st, gen
}

func saveAndValidate(t *testing.T, s *Service, ctype, body string, batch *string) (*fields.CSVUpload, bool, map[string]any) {
	t.Helper()
	ctx := context.Background()
	u, err := s.Save(ctx, strings.NewReader(body), "data.csv", ctype, nil, batch)
	require.NoError(t, err)
	ok, info, err := s.Validate(ctx, u)
	require.NoError(t, err)
	return u, ok, info
}

func TestSaveStoresFile(t *testing.T) {
	s, st, _ := newTestService(t)
	uid := int64(7)
	u, err := s.Save(context.Background(), strings.NewReader(salesCSV), "../../evil name.csv", fields.CSVSales, &uid, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.CSVPath, "/7/"+strconv.FormatInt(u.ID, 10)+"-sales.csv"), u.CSVPath)
	data, err := os.ReadFile(u.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, salesCSV, string(data))
	assert.Equal(t, "evil_name.csv", u.OriginalFilename)

	stored, err := st.GetUpload(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.CSVPath, stored.CSVPath)
	require.NotNil(t, stored.ContentSHA256)
	assert.Len(t, *stored.ContentSHA256, 64)
}

func TestSaveRejects(t *testing.T) {
	s, _, _ := newTestService(t)
	s.MaxBytes = 64
	tests := []struct {
		name  string
		file  string
		ctype string
		body  []byte
		want  string
	}{
		{"bad type", "a.csv", "orders", []byte("a,b\n"), "invalid type"},
		{"extension", "a.xlsx", fields.CSVSales, []byte("a,b\n"), "only .csv allowed"},
		{"too large", "a.csv", fields.CSVSales, bytes.Repeat([]byte("a,b\n"), 40), "file too large"},
		{"binary", "a.csv", fields.CSVSales, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}, "not text/csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(context.Background(), bytes.NewReader(tt.body), tt.file, tt.ctype, nil, nil)
			require.Error(t, err)
			assert.Contains(t, apperr.Message(err), tt.want)
			assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
		})
	}
}

func TestValidate(t *testing.T) {
	s, st, _ := newTestService(t)
	s.MaxRows = 3

	u, ok, info := saveAndValidate(t, s, fields.CSVSales, salesCSV, nil)
	assert.True(t, ok)
	assert.Equal(t, 3, info["row_count"])
	stored, _ := st.GetUpload(context.Background(), u.ID)
	assert.Equal(t, fields.UploadValidated, stored.Status)
	require.NotNil(t, stored.DetectedColumns)
	assert.Contains(t, *stored.DetectedColumns, `"notes"`)

	u, ok, info = saveAndValidate(t, s, fields.CSVSales, "invoice_id,invoice_date,item_id\nI,2024-01-01,A\n", nil)
	assert.False(t, ok)
	assert.Equal(t, []string{"customer_id", "qty", "unit_price"}, info["missing"])
	stored, _ = st.GetUpload(context.Background(), u.ID)
	assert.Equal(t, fields.UploadInvalid, stored.Status)
	assert.Equal(t, "Missing columns: ['customer_id', 'qty', 'unit_price']", *stored.ErrorMsg)

	_, ok, info = saveAndValidate(t, s, fields.CSVSales, salesCSV+"INV3,2024-01-03,C3,A,1,1\n", nil)
	assert.False(t, ok)
	assert.Equal(t, "Row limit exceeded", info["error"])

	u, ok, _ = saveAndValidate(t, s, fields.CSVInventory, "move_id,move_date,item_id,type,qty,unit_cost\nM,2024-01-01,A,LOST,1,1\n", nil)
	assert.False(t, ok)
	stored, _ = st.GetUpload(context.Background(), u.ID)
	assert.True(t, strings.HasPrefix(*stored.ErrorMsg, "type/date error: "))
}

func TestInsightsAreCached(t *testing.T) {
	s, _, gen := newTestService(t)
	u, ok, _ := saveAndValidate(t, s, fields.CSVSales, salesCSV, nil)
	require.True(t, ok)

	first, err := s.UploadInsight(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, gen.reply, first.Insight)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "5 concise, numbered insights")
	assert.Contains(t, gen.prompts[0], `"units_sold":6`)

	second, err := s.UploadInsight(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Len(t, gen.prompts, 1)
}

func TestInsightNotReady(t *testing.T) {
	s, _, _ := newTestService(t)
	u, ok, _ := saveAndValidate(t, s, fields.CSVSales, "bad\n1\n", nil)
	require.False(t, ok)
	_, err := s.UploadInsight(context.Background(), u.ID)
	require.Error(t, err)
	assert.Equal(t, "not ready: invalid", apperr.Message(err))

	_, err = s.UploadInsight(context.Background(), 999)
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))
}

func TestPairAndBatchInsight(t *testing.T) {
	s, _, gen := newTestService(t)
	batch := "week-1"
	sales, _, _ := saveAndValidate(t, s, fields.CSVSales, salesCSV, &batch)
	inv, _, _ := saveAndValidate(t, s, fields.CSVInventory, inventoryCSV, &batch)

	in, err := s.PairInsight(context.Background(), sales.ID, inv.ID, "")
	require.NoError(t, err)
	combined, ok := in.Metrics.(*Combined)
	require.True(t, ok)
	assert.NotNil(t, combined.Sales)
	assert.NotNil(t, combined.Inventory)
	assert.Contains(t, gen.prompts[0], "6 concise, numbered insights that connect")

	_, err = s.PairInsight(context.Background(), 0, 0, batch)
	require.NoError(t, err)

	_, err = s.PairInsight(context.Background(), inv.ID, inv.ID, "")
	assert.Equal(t, "sales upload not ready or missing", apperr.Message(err))

	_, _, _ = saveAndValidate(t, s, fields.CSVSales, salesCSV, &batch)
	in, err = s.BatchInsight(context.Background(), batch)
	require.NoError(t, err)
	combined = in.Metrics.(*Combined)
	// both sales files share invoice ids
	assert.Equal(t, 2, combined.Sales.KPIs.Orders)
	assert.Equal(t, 12, combined.Sales.KPIs.UnitsSold)
	assert.Contains(t, gen.prompts[len(gen.prompts)-1], "aggregated JSON")

	_, err = s.BatchInsight(context.Background(), "")
	assert.Equal(t, "batch_id is required", apperr.Message(err))
	_, err = s.BatchInsight(context.Background(), "empty")
	assert.Equal(t, "no validated uploads in this batch", apperr.Message(err))
}

func TestInsightGeneratorFailure(t *testing.T) {
	s, _, gen := newTestService(t)
	gen.err = errors.New("ollama down")
	u, _, _ := saveAndValidate(t, s, fields.CSVSales, salesCSV, nil)
	_, err := s.UploadInsight(context.Background(), u.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestProcessSalesUpload(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	u, _, _ := saveAndValidate(t, s, fields.CSVSales, salesCSV, nil)

	res, err := s.Process(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Purchases)
	assert.Equal(t, 2, res.Customers)

	c1, err := st.GetCustomer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, c1.TotalOrders)
	assert.Equal(t, "25.5", c1.TotalSpent.String())
	require.NotNil(t, c1.Email)
	assert.Equal(t, "c1@x.com", *c1.Email)

	stored, _ := st.GetUpload(ctx, u.ID)
	assert.Equal(t, fields.UploadProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	// reprocessing replaces purchases instead of doubling them
	_, err = s.Process(ctx, u.ID)
	require.NoError(t, err)
	c1, _ = st.GetCustomer(ctx, "C1")
	assert.Equal(t, "25.5", c1.TotalSpent.String())

	inv, _, _ := saveAndValidate(t, s, fields.CSVInventory, inventoryCSV, nil)
	_, err = s.Process(ctx, inv.ID)
	assert.Equal(t, "only sales uploads can be processed", apperr.Message(err))
}

func multipartUpload(t *testing.T, url, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = fw.Write([]byte(body))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlers(t *testing.T) {
	s, _, _ := newTestService(t)
	app := fiber.New()
	s.Mount(app.Group("/api/csv"))

	res, err := app.Test(multipartUpload(t, "/api/csv/upload?type=sales&batch_id=b1", "s.csv", salesCSV))
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Contains(t, string(body), `"upload_id":1`)
	assert.Contains(t, string(body), `"row_count":3`)

	res, err = app.Test(multipartUpload(t, "/api/csv/upload?type=sales", "s.csv", "a,b\n1,2\n"))
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, string(body), `"missing":[`)

	res, err = app.Test(multipartUpload(t, "/api/csv/upload?type=orders", "s.csv", salesCSV))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		substr string
	}{
		{"template", http.MethodGet, "/api/csv/templates/sales", http.StatusOK, "invoice_id,invoice_date"},
		{"template unknown", http.MethodGet, "/api/csv/templates/x", http.StatusBadRequest, "unknown type"},
		{"status", http.MethodGet, "/api/csv/1/status", http.StatusOK, `"status":"validated"`},
		{"status missing", http.MethodGet, "/api/csv/99/status", http.StatusNotFound, `"ok":false`},
		{"dashboard", http.MethodGet, "/api/csv/dashboard/1", http.StatusOK, `"sales_trend"`},
		{"dashboard not ready", http.MethodGet, "/api/csv/dashboard/2", http.StatusBadRequest, "not ready: invalid"},
		{"uploads", http.MethodGet, "/api/csv/uploads?batch_id=b1", http.StatusOK, `"original_filename":"s.csv"`},
		{"insight", http.MethodPost, "/api/csv/insight/1", http.StatusOK, `"insight"`},
		{"pair missing", http.MethodPost, "/api/csv/insight/pair?sales_id=1", http.StatusBadRequest, "inventory upload not ready or missing"},
		{"batch", http.MethodPost, "/api/csv/insight/batch?batch_id=b1", http.StatusOK, `"sales"`},
		{"process", http.MethodPost, "/api/csv/1/process", http.StatusOK, `"purchases":3`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
			require.NoError(t, err)
			body, _ := io.ReadAll(res.Body)
			assert.Equal(t, tt.want, res.StatusCode, string(body))
			assert.Contains(t, string(body), tt.substr)
		})
	}
}
