package csvdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/cache"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const insightTTL = 24 * time.Hour

// Repository is the persistence the csv service needs. *store.Store implements it.
type Repository interface {
	CreateUpload(ctx context.Context, u *fields.CSVUpload) error
	UpdateUploadFile(ctx context.Context, id int64, path string, size int64, sha string) error
	SaveValidation(ctx context.Context, u *fields.CSVUpload) error
	SetUploadStatus(ctx context.Context, id int64, status string, errMsg *string) error
	GetUpload(ctx context.Context, id int64) (*fields.CSVUpload, error)
	ListUploads(ctx context.Context, batchID string, limit int) ([]fields.CSVUpload, error)
	ReadyUploads(ctx context.Context, batchID, csvType string) ([]fields.CSVUpload, error)
	LatestReady(ctx context.Context, batchID, csvType string) (*fields.CSVUpload, error)
	IngestPurchases(ctx context.Context, uploadID int64, lines []store.PurchaseInput) (int, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	Repo     Repository
	LLM      Generator
	Cache    cache.Cache
	Folder   string
	MaxRows  int
	MaxBytes int64
	Logger   *logrus.Logger
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload.csv"
	}
	return name
}

// Save stores the raw file under <folder>/<user id|anonymous>/<id>-<type>.csv and records it.
func (s *Service) Save(ctx context.Context, src io.Reader, filename, ctype string, userID *int64, batchID *string) (*fields.CSVUpload, error) {
	if Required(ctype) == nil {
		return nil, apperr.Newf(apperr.ErrBadRequest, "invalid type")
	}
	if strings.ToLower(filepath.Ext(filename)) != ".csv" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "only .csv allowed")
	}

	owner := "anonymous"
	if userID != nil {
		owner = strconv.FormatInt(*userID, 10)
	}
	dir := filepath.Join(s.Folder, owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal, "could not prepare upload folder")
	}

	tmp, err := os.CreateTemp(dir, "tmp_*.csv")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal, "could not store upload")
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	limit := s.MaxBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	size, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(src, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal, "could not store upload")
	}
	if size > limit {
		return nil, apperr.Newf(apperr.ErrBadRequest, "file too large (max %d MB)", limit>>20)
	}
	if !isText(tmpPath) {
		return nil, apperr.Newf(apperr.ErrBadRequest, "file content is not text/csv")
	}

	sum := hex.EncodeToString(h.Sum(nil))
	u := &fields.CSVUpload{
		UserID:           userID,
		CSVType:          ctype,
		OriginalFilename: secureFilename(filename),
		SizeBytes:        &size,
		ContentSHA256:    &sum,
		Status:           fields.UploadUploaded,
		BatchID:          batchID,
	}
	if err := s.Repo.CreateUpload(ctx, u); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not record upload")
	}

	final := filepath.Join(dir, fmt.Sprintf("%d-%s.csv", u.ID, ctype))
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal, "could not store upload")
	}
	keep = true
	if abs, err := filepath.Abs(final); err == nil {
		final = abs
	}
	u.CSVPath = final
	if err := s.Repo.UpdateUploadFile(ctx, u.ID, final, size, sum); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not record upload")
	}
	s.Logger.WithFields(logrus.Fields{"upload_id": u.ID, "csv_type": ctype, "size": size, "batch_id": batchID}).Info("csv uploaded")
	return u, nil
}

func isText(path string) bool {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}

// Validate checks the header, row limit and cell formats, and stores the outcome. The returned
// map carries row_count on success and missing or error otherwise.
func (s *Service) Validate(ctx context.Context, u *fields.CSVUpload) (bool, map[string]any, error) {
	required := Required(u.CSVType)
	now := time.Now().UTC()
	u.ValidatedAt = &now

	invalid := func(msg string, info map[string]any) (bool, map[string]any, error) {
		u.Status = fields.UploadInvalid
		u.ErrorMsg = &msg
		if err := s.Repo.SaveValidation(ctx, u); err != nil {
			return false, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not save validation")
		}
		s.Logger.WithFields(logrus.Fields{"upload_id": u.ID, "reason": msg}).Info("csv rejected")
		return false, info, nil
	}

	t, err := readTable(u.CSVPath, s.MaxRows)
	if err != nil {
		return invalid("type/date error: "+err.Error(), map[string]any{"error": err.Error()})
	}
	cols, _ := json.Marshal(t.header)
	detected := string(cols)
	u.DetectedColumns = &detected

	if missing := t.missing(required); len(missing) > 0 {
		return invalid("Missing columns: "+fields.QuotedList(missing), map[string]any{"missing": missing})
	}
	if s.MaxRows > 0 && len(t.rows) > s.MaxRows {
		return invalid("Row limit exceeded", map[string]any{"error": "Row limit exceeded"})
	}
	if err := t.checkRows(u.CSVType); err != nil {
		return invalid("type/date error: "+err.Error(), map[string]any{"error": err.Error()})
	}

	rows := len(t.rows)
	u.Status = fields.UploadValidated
	u.RowCount = &rows
	u.ErrorMsg = nil
	if err := s.Repo.SaveValidation(ctx, u); err != nil {
		return false, nil, apperr.Wrap(err, apperr.ErrDatabase, "could not save validation")
	}
	return true, map[string]any{"row_count": rows}, nil
}

// Upload reports the stored upload or apperr.ErrNotFound.
func (s *Service) Upload(ctx context.Context, id int64) (*fields.CSVUpload, error) {
	u, err := s.Repo.GetUpload(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Newf(apperr.ErrNotFound, "upload %d not found", id)
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not load upload")
	}
	return u, nil
}

func (s *Service) ready(ctx context.Context, id int64) (*fields.CSVUpload, error) {
	u, err := s.Upload(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Ready() {
		return nil, apperr.Newf(apperr.ErrNotReady, "not ready: %s", u.Status)
	}
	return u, nil
}

func (s *Service) load(u *fields.CSVUpload) (*table, error) {
	t, err := readTable(u.CSVPath, 0)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBadRequest, "could not read upload file")
	}
	return t, nil
}

// Dashboard computes the chart data of a ready upload. Exactly one of the results is set.
func (s *Service) Dashboard(ctx context.Context, id int64) (*fields.CSVUpload, *Combined, error) {
	u, err := s.ready(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.metrics(u)
	if err != nil {
		return nil, nil, err
	}
	return u, m, nil
}

func (s *Service) metrics(uploads ...*fields.CSVUpload) (*Combined, error) {
	var sales []saleLine
	var moves []moveLine
	for _, u := range uploads {
		t, err := s.load(u)
		if err != nil {
			return nil, err
		}
		if u.CSVType == fields.CSVSales {
			sales = append(sales, t.sales()...)
		} else {
			moves = append(moves, t.moves()...)
		}
	}
	out := &Combined{}
	for _, u := range uploads {
		if u.CSVType == fields.CSVSales && out.Sales == nil {
			out.Sales = salesMetrics(sales)
		}
		if u.CSVType == fields.CSVInventory && out.Inventory == nil {
			out.Inventory = inventoryMetrics(moves)
		}
	}
	return out, nil
}

// Insight holds computed metrics and the generated analysis.
type Insight struct {
	Metrics any    `json:"metrics"`
	Insight string `json:"insight"`
	Cached  bool   `json:"cached,omitempty"`
}

// UploadInsight analyzes a single ready upload.
func (s *Service) UploadInsight(ctx context.Context, id int64) (*Insight, error) {
	u, err := s.ready(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.metrics(u)
	if err != nil {
		return nil, err
	}
	var payload any = m.Sales
	if u.CSVType == fields.CSVInventory {
		payload = m.Inventory
	}
	return s.insight(ctx, singlePrompt, payload)
}

// PairInsight analyzes one sales and one inventory upload together. With a batch id the newest
// validated upload of each type in the batch is used.
func (s *Service) PairInsight(ctx context.Context, salesID, inventoryID int64, batchID string) (*Insight, error) {
	var salesU, invU *fields.CSVUpload
	if batchID != "" {
		salesU, _ = s.Repo.LatestReady(ctx, batchID, fields.CSVSales)
		invU, _ = s.Repo.LatestReady(ctx, batchID, fields.CSVInventory)
	} else {
		if salesID > 0 {
			salesU, _ = s.Repo.GetUpload(ctx, salesID)
		}
		if inventoryID > 0 {
			invU, _ = s.Repo.GetUpload(ctx, inventoryID)
		}
	}
	if salesU == nil || !salesU.Ready() || salesU.CSVType != fields.CSVSales {
		return nil, apperr.Newf(apperr.ErrNotReady, "sales upload not ready or missing")
	}
	if invU == nil || !invU.Ready() || invU.CSVType != fields.CSVInventory {
		return nil, apperr.Newf(apperr.ErrNotReady, "inventory upload not ready or missing")
	}
	m, err := s.metrics(salesU, invU)
	if err != nil {
		return nil, err
	}
	return s.insight(ctx, pairPrompt, m)
}

// BatchInsight aggregates every ready upload of a batch by type.
func (s *Service) BatchInsight(ctx context.Context, batchID string) (*Insight, error) {
	if batchID == "" {
		return nil, apperr.Newf(apperr.ErrBadRequest, "batch_id is required")
	}
	rows, err := s.Repo.ReadyUploads(ctx, batchID, "")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not list batch uploads")
	}
	if len(rows) == 0 {
		return nil, apperr.Newf(apperr.ErrNotReady, "no validated uploads in this batch")
	}
	uploads := make([]*fields.CSVUpload, len(rows))
	for i := range rows {
		uploads[i] = &rows[i]
	}
	m, err := s.metrics(uploads...)
	if err != nil {
		return nil, err
	}
	if m.Sales == nil && m.Inventory == nil {
		return nil, apperr.Newf(apperr.ErrNotReady, "no data to analyze in batch")
	}
	return s.insight(ctx, batchPrompt, m)
}

func (s *Service) insight(ctx context.Context, tmpl string, metrics any) (*Insight, error) {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal, "could not encode metrics")
	}
	prompt := fmt.Sprintf(tmpl, truncate(string(raw), maxPromptJSON))

	key := cache.Key("insight", prompt)
	if s.Cache != nil {
		if hit, ok := s.Cache.Get(ctx, key); ok {
			return &Insight{Metrics: metrics, Insight: string(hit), Cached: true}, nil
		}
	}
	text, err := s.LLM.Generate(ctx, prompt)
	if err != nil {
		s.Logger.WithError(err).Warn("insight generation failed")
		return nil, apperr.Wrap(err, apperr.ErrBadRequest, err.Error())
	}
	if s.Cache != nil && text != "" {
		s.Cache.Set(ctx, key, []byte(text), insightTTL)
	}
	return &Insight{Metrics: metrics, Insight: text}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Uploads lists the latest 50 uploads, optionally restricted to a batch.
func (s *Service) Uploads(ctx context.Context, batchID string) ([]fields.CSVUpload, error) {
	out, err := s.Repo.ListUploads(ctx, batchID, 50)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not list uploads")
	}
	return out, nil
}
