package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/adonese/bizpilot/fields"
	"github.com/shopspring/decimal"
)

// PurchaseInput is one sales line to be recorded against a customer.
type PurchaseInput struct {
	InvoiceID     string
	InvoiceDate   time.Time
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	ItemID        string
	ItemName      string
	Qty           int
	UnitPrice     decimal.Decimal
}

const customerColumns = `id, customer_id, name, email, phone, address, first_purchase_date, last_purchase_date,
	total_orders, total_spent, created_at, updated_at`

const purchaseColumns = `id, customer_id, invoice_id, invoice_date, item_id, item_name, qty, unit_price, revenue,
	csv_upload_id, created_at`

// IngestPurchases replaces the purchases recorded for uploadID with lines and refreshes the
// aggregates of every customer involved. It returns the number of lines written.
func (s *Store) IngestPurchases(ctx context.Context, uploadID int64, lines []PurchaseInput) (int, error) {
	db, err := s.ensureDB()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	touched := map[string]struct{}{}

	var previous []string
	if err := tx.SelectContext(ctx, &previous, tx.Rebind(`SELECT DISTINCT customer_id FROM dt_customer_purchase WHERE csv_upload_id = ?`), uploadID); err != nil {
		return 0, err
	}
	for _, id := range previous {
		touched[id] = struct{}{}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dt_customer_purchase WHERE csv_upload_id = ?`), uploadID); err != nil {
		return 0, err
	}

	insertCustomer := tx.Rebind(`INSERT INTO dt_customer(customer_id, name, email, total_orders, total_spent, created_at, updated_at)
		VALUES(?, ?, ?, 0, 0, ?, ?) ON CONFLICT(customer_id) DO NOTHING`)
	fillEmail := tx.Rebind(`UPDATE dt_customer SET email = ? WHERE customer_id = ? AND (email IS NULL OR email = '')`)
	insertPurchase := tx.Rebind(`INSERT INTO dt_customer_purchase(customer_id, invoice_id, invoice_date, item_id, item_name, qty,
		unit_price, revenue, csv_upload_id, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, l := range lines {
		name := l.CustomerName
		if name == "" {
			name = l.CustomerID
		}
		var email *string
		if l.CustomerEmail != "" {
			email = &l.CustomerEmail
		}
		if _, err := tx.ExecContext(ctx, insertCustomer, l.CustomerID, name, email, now, now); err != nil {
			return 0, err
		}
		if email != nil {
			if _, err := tx.ExecContext(ctx, fillEmail, *email, l.CustomerID); err != nil {
				return 0, err
			}
		}
		itemName := l.ItemName
		if itemName == "" {
			itemName = l.ItemID
		}
		unitPrice := l.UnitPrice.Round(2)
		revenue := unitPrice.Mul(decimal.NewFromInt(int64(l.Qty))).Round(2)
		if _, err := tx.ExecContext(ctx, insertPurchase, l.CustomerID, l.InvoiceID, l.InvoiceDate.UTC(), l.ItemID, itemName,
			l.Qty, unitPrice, revenue, uploadID, now); err != nil {
			return 0, err
		}
		touched[l.CustomerID] = struct{}{}
	}

	if len(touched) > 0 {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		query, args, err := s.DB.Builder().Update("dt_customer").
			Set("total_orders", sq.Expr("(SELECT COUNT(DISTINCT p.invoice_id) FROM dt_customer_purchase p WHERE p.customer_id = dt_customer.customer_id)")).
			Set("total_spent", sq.Expr("(SELECT COALESCE(SUM(p.revenue), 0) FROM dt_customer_purchase p WHERE p.customer_id = dt_customer.customer_id)")).
			Set("first_purchase_date", sq.Expr("(SELECT MIN(p.invoice_date) FROM dt_customer_purchase p WHERE p.customer_id = dt_customer.customer_id)")).
			Set("last_purchase_date", sq.Expr("(SELECT MAX(p.invoice_date) FROM dt_customer_purchase p WHERE p.customer_id = dt_customer.customer_id)")).
			Set("updated_at", now).
			Where(sq.Eq{"customer_id": ids}).
			ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// ListCustomers returns one page ordered by id and the total number of customers.
func (s *Store) ListCustomers(ctx context.Context, page, perPage int) ([]fields.Customer, int, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM dt_customer`); err != nil {
		return nil, 0, err
	}
	query, args, err := s.DB.Builder().Select(customerColumns).From("dt_customer").OrderBy("id ASC").
		Limit(uint64(perPage)).Offset(uint64((page - 1) * perPage)).ToSql()
	if err != nil {
		return nil, 0, err
	}
	out := []fields.Customer{}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*fields.Customer, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var c fields.Customer
	if err := db.GetContext(ctx, &c, db.Rebind(`SELECT `+customerColumns+` FROM dt_customer WHERE customer_id = ?`), customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCustomerByEmail matches case-insensitively.
func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*fields.Customer, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var c fields.Customer
	if err := db.GetContext(ctx, &c, db.Rebind(`SELECT `+customerColumns+` FROM dt_customer WHERE LOWER(email) = LOWER(?)`), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CustomerPurchases returns purchases newest first. limit <= 0 means no limit.
func (s *Store) CustomerPurchases(ctx context.Context, customerID string, limit, offset int) ([]fields.CustomerPurchase, int, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.GetContext(ctx, &total, db.Rebind(`SELECT COUNT(*) FROM dt_customer_purchase WHERE customer_id = ?`), customerID); err != nil {
		return nil, 0, err
	}
	q := s.DB.Builder().Select(purchaseColumns).From("dt_customer_purchase").
		Where("customer_id = ?", customerID).OrderBy("invoice_date DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit)).Offset(uint64(offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, err
	}
	out := []fields.CustomerPurchase{}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UploadPurchases returns the purchases ingested from one upload.
func (s *Store) UploadPurchases(ctx context.Context, uploadID int64) ([]fields.CustomerPurchase, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	out := []fields.CustomerPurchase{}
	stmt := db.Rebind(`SELECT ` + purchaseColumns + ` FROM dt_customer_purchase WHERE csv_upload_id = ? ORDER BY id`)
	if err := db.SelectContext(ctx, &out, stmt, uploadID); err != nil {
		return nil, err
	}
	return out, nil
}

// CustomersByID loads the given customers.
func (s *Store) CustomersByID(ctx context.Context, ids []string) ([]fields.Customer, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	out := []fields.Customer{}
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := s.DB.Builder().Select(customerColumns).From("dt_customer").
		Where(sq.Eq{"customer_id": ids}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// CustomersWhere selects customers matching cond. withEmail restricts to reachable customers.
func (s *Store) CustomersWhere(ctx context.Context, cond sq.Sqlizer, withEmail bool) ([]fields.Customer, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	q := s.DB.Builder().Select(customerColumns).From("dt_customer").OrderBy("id")
	if cond != nil {
		q = q.Where(cond)
	}
	if withEmail {
		q = q.Where("email IS NOT NULL").Where("email <> ''")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	out := []fields.Customer{}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductBuyers returns customers who bought an item whose name contains filter.
func (s *Store) ProductBuyers(ctx context.Context, filter string, withEmail bool) ([]fields.Customer, error) {
	sub := sq.Select("DISTINCT customer_id").From("dt_customer_purchase").
		Where("LOWER(item_name) LIKE LOWER(?)", "%"+filter+"%")
	return s.CustomersWhere(ctx, sq.Expr("customer_id IN (?)", sub), withEmail)
}

// AverageSpent is the mean total_spent over all customers.
func (s *Store) AverageSpent(ctx context.Context) (float64, error) {
	db, err := s.ensureDB()
	if err != nil {
		return 0, err
	}
	var avg sql.NullFloat64
	if err := db.GetContext(ctx, &avg, `SELECT CAST(AVG(total_spent) AS DOUBLE PRECISION) FROM dt_customer`); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// CustomerTotals backs the customer KPI endpoint.
type CustomerTotals struct {
	Total       int     `db:"total"`
	NewSince    int     `db:"new_since"`
	ActiveSince int     `db:"active_since"`
	AvgSpent    float64 `db:"avg_spent"`
	AvgOrders   float64 `db:"avg_orders"`
}

func (s *Store) CustomerTotals(ctx context.Context, createdSince, activeSince time.Time) (*CustomerTotals, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var t CustomerTotals
	stmt := db.Rebind(`SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS new_since,
		COALESCE(SUM(CASE WHEN last_purchase_date >= ? THEN 1 ELSE 0 END), 0) AS active_since,
		COALESCE(CAST(AVG(total_spent) AS DOUBLE PRECISION), 0) AS avg_spent,
		COALESCE(CAST(AVG(total_orders) AS DOUBLE PRECISION), 0) AS avg_orders
		FROM dt_customer`)
	if err := db.GetContext(ctx, &t, stmt, createdSince.UTC(), activeSince.UTC()); err != nil {
		return nil, err
	}
	return &t, nil
}

// AllPurchases returns every purchase, oldest first.
func (s *Store) AllPurchases(ctx context.Context) ([]fields.CustomerPurchase, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	out := []fields.CustomerPurchase{}
	if err := db.SelectContext(ctx, &out, `SELECT `+purchaseColumns+` FROM dt_customer_purchase ORDER BY invoice_date, id`); err != nil {
		return nil, err
	}
	return out, nil
}

// AllCustomers returns every customer ordered by id.
func (s *Store) AllCustomers(ctx context.Context) ([]fields.Customer, error) {
	return s.CustomersWhere(ctx, nil, false)
}
