package csvdata

import (
	"context"
	"math"

	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ProcessResult struct {
	UploadID  int64 `json:"upload_id"`
	Purchases int   `json:"purchases"`
	Customers int   `json:"customers"`
	Skipped   int   `json:"skipped"`
}

// Process records the lines of a validated sales upload as customer purchases. Reprocessing an
// upload replaces its earlier purchases.
func (s *Service) Process(ctx context.Context, id int64) (*ProcessResult, error) {
	u, err := s.ready(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.CSVType != fields.CSVSales {
		return nil, apperr.Newf(apperr.ErrBadRequest, "only sales uploads can be processed")
	}
	t, err := s.load(u)
	if err != nil {
		return nil, err
	}

	res := &ProcessResult{UploadID: u.ID}
	customers := map[string]struct{}{}
	lines := make([]store.PurchaseInput, 0, len(t.rows))
	for i, l := range t.sales() {
		if l.CustomerID == "" || l.InvoiceID == "" {
			res.Skipped++
			continue
		}
		price, err := decimal.NewFromString(t.get(t.rows[i], "unit_price"))
		if err != nil {
			price = decimal.NewFromFloat(l.UnitPrice)
		}
		lines = append(lines, store.PurchaseInput{
			InvoiceID:     l.InvoiceID,
			InvoiceDate:   l.Date,
			CustomerID:    l.CustomerID,
			CustomerName:  l.CustomerName,
			CustomerEmail: l.CustomerEmail,
			ItemID:        l.ItemID,
			ItemName:      l.ItemName,
			Qty:           int(math.Round(l.Qty)),
			UnitPrice:     price,
		})
		customers[l.CustomerID] = struct{}{}
	}

	n, err := s.Repo.IngestPurchases(ctx, u.ID, lines)
	if err != nil {
		msg := "ingest failed: " + err.Error()
		if serr := s.Repo.SetUploadStatus(ctx, u.ID, fields.UploadFailed, &msg); serr != nil {
			s.Logger.WithError(serr).WithField("upload_id", u.ID).Error("could not mark upload failed")
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not ingest purchases")
	}
	if err := s.Repo.SetUploadStatus(ctx, u.ID, fields.UploadProcessed, nil); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "could not update upload status")
	}
	res.Purchases = n
	res.Customers = len(customers)
	s.Logger.WithFields(logrus.Fields{
		"upload_id": u.ID,
		"purchases": n,
		"customers": res.Customers,
		"skipped":   res.Skipped,
	}).Info("sales upload processed")
	return res, nil
}
