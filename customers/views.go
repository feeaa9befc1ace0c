package customers

import (
	"time"

	"github.com/adonese/bizpilot/fields"
)

const dateLayout = "2006-01-02"

type CustomerView struct {
	CustomerID        string  `json:"customer_id"`
	Name              string  `json:"name"`
	Email             *string `json:"email"`
	Phone             *string `json:"phone"`
	Address           *string `json:"address"`
	FirstPurchaseDate *string `json:"first_purchase_date"`
	LastPurchaseDate  *string `json:"last_purchase_date"`
	TotalOrders       int     `json:"total_orders"`
	TotalSpent        float64 `json:"total_spent"`
	CreatedAt         string  `json:"created_at"`
}

func dateOf(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dateLayout)
	return &s
}

func viewOf(c fields.Customer) CustomerView {
	return CustomerView{
		CustomerID:        c.CustomerID,
		Name:              c.Name,
		Email:             c.Email,
		Phone:             c.Phone,
		Address:           c.Address,
		FirstPurchaseDate: dateOf(c.FirstPurchaseDate),
		LastPurchaseDate:  dateOf(c.LastPurchaseDate),
		TotalOrders:       c.TotalOrders,
		TotalSpent:        c.TotalSpent.InexactFloat64(),
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type RecentPurchase struct {
	InvoiceID   string  `json:"invoice_id"`
	InvoiceDate string  `json:"invoice_date"`
	ItemName    string  `json:"item_name"`
	Qty         int     `json:"qty"`
	Revenue     float64 `json:"revenue"`
}

type Profile struct {
	CustomerView
	AverageOrderValue     float64          `json:"average_order_value"`
	DaysSinceLastPurchase *int             `json:"days_since_last_purchase"`
	RecentPurchases       []RecentPurchase `json:"recent_purchases"`
}

type PurchaseView struct {
	ID          int64   `json:"id"`
	InvoiceID   string  `json:"invoice_id"`
	InvoiceDate string  `json:"invoice_date"`
	ItemID      string  `json:"item_id"`
	ItemName    string  `json:"item_name"`
	Qty         int     `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	Revenue     float64 `json:"revenue"`
	CreatedAt   string  `json:"created_at"`
}

type SegmentCustomer struct {
	CustomerID   string  `json:"customer_id"`
	Name         string  `json:"name"`
	Email        *string `json:"email"`
	TotalOrders  int     `json:"total_orders"`
	TotalSpent   float64 `json:"total_spent"`
	LastPurchase *string `json:"last_purchase"`
}

type SegmentResult struct {
	Segment   string            `json:"segment"`
	Criteria  string            `json:"criteria"`
	Count     int               `json:"count"`
	Customers []SegmentCustomer `json:"customers"`
}

type UploadCustomer struct {
	CustomerID    string  `json:"customer_id"`
	Name          string  `json:"name"`
	Email         *string `json:"email"`
	IsNewCustomer bool    `json:"is_new_customer"`
	UploadRevenue float64 `json:"upload_revenue"`
	UploadOrders  int     `json:"upload_orders"`
	TotalOrders   int     `json:"total_orders"`
	TotalSpent    float64 `json:"total_spent"`
}

type UploadAnalysis struct {
	UniqueCustomers int              `json:"unique_customers"`
	NewCustomers    int              `json:"new_customers"`
	RepeatCustomers int              `json:"repeat_customers"`
	Customers       []UploadCustomer `json:"customers"`
}

type Metrics struct {
	TotalCustomers  int     `json:"total_customers"`
	NewCustomers30d int     `json:"new_customers_30d"`
	ActiveCustomers int     `json:"active_customers"`
	ChurnRate       float64 `json:"churn_rate"`
	AverageSpent    float64 `json:"average_spent"`
	AverageOrders   float64 `json:"average_orders"`
}
