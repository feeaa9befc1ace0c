package csvdata

import (
	"sort"
	"strings"
	"time"
)

type SalesKPIs struct {
	Revenue   float64 `json:"revenue"`
	UnitsSold int     `json:"units_sold"`
	Orders    int     `json:"orders"`
	AOV       float64 `json:"aov"`
}

type SalesPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Units   float64 `json:"units"`
}

type ItemSales struct {
	ItemID  string  `json:"item_id"`
	Revenue float64 `json:"revenue"`
	Units   float64 `json:"units"`
}

type SalesMetrics struct {
	KPIs       SalesKPIs    `json:"kpis"`
	SalesTrend []SalesPoint `json:"sales_trend"`
	TopItems   []ItemSales  `json:"top_items"`
}

type InventoryKPIs struct {
	COGS float64 `json:"cogs"`
}

type StockLevel struct {
	ItemID string  `json:"item_id"`
	OnHand float64 `json:"on_hand"`
	WAC    float64 `json:"wac"`
	Value  float64 `json:"value"`
}

type COGSPoint struct {
	Date string  `json:"date"`
	COGS float64 `json:"cogs"`
}

type InventoryMetrics struct {
	KPIs            InventoryKPIs `json:"kpis"`
	InventoryLevels []StockLevel  `json:"inventory_levels"`
	COGSTrend       []COGSPoint   `json:"cogs_trend"`
}

// Combined is the metrics payload of pair and batch insights.
type Combined struct {
	Sales     *SalesMetrics     `json:"sales,omitempty"`
	Inventory *InventoryMetrics `json:"inventory,omitempty"`
}

type saleLine struct {
	InvoiceID     string
	Date          time.Time
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	ItemID        string
	ItemName      string
	Qty           float64
	UnitPrice     float64
}

type moveLine struct {
	MoveID   string
	Date     time.Time
	ItemID   string
	Type     string
	Qty      float64
	UnitCost float64
}

// Unparseable cells fall back to zero values; rows were already checked on validation.
func (t *table) sales() []saleLine {
	out := make([]saleLine, 0, len(t.rows))
	for _, row := range t.rows {
		d, _ := date(t.get(row, "invoice_date"))
		qty, _ := number(t.get(row, "qty"))
		price, _ := number(t.get(row, "unit_price"))
		out = append(out, saleLine{
			InvoiceID:     t.get(row, "invoice_id"),
			Date:          d,
			CustomerID:    t.get(row, "customer_id"),
			CustomerName:  t.get(row, "customer_name"),
			CustomerEmail: t.get(row, "customer_email"),
			ItemID:        t.get(row, "item_id"),
			ItemName:      t.get(row, "item_name"),
			Qty:           qty,
			UnitPrice:     price,
		})
	}
	return out
}

func (t *table) moves() []moveLine {
	out := make([]moveLine, 0, len(t.rows))
	for _, row := range t.rows {
		d, _ := date(t.get(row, "move_date"))
		qty, _ := number(t.get(row, "qty"))
		cost, _ := number(t.get(row, "unit_cost"))
		out = append(out, moveLine{
			MoveID:   t.get(row, "move_id"),
			Date:     d,
			ItemID:   t.get(row, "item_id"),
			Type:     strings.ToUpper(t.get(row, "type")),
			Qty:      qty,
			UnitCost: cost,
		})
	}
	return out
}

func salesMetrics(lines []saleLine) *SalesMetrics {
	m := &SalesMetrics{SalesTrend: []SalesPoint{}, TopItems: []ItemSales{}}
	invoices := map[string]struct{}{}
	byDate := map[string]*SalesPoint{}
	byItem := map[string]*ItemSales{}
	var units float64

	for _, l := range lines {
		rev := l.Qty * l.UnitPrice
		m.KPIs.Revenue += rev
		units += l.Qty
		invoices[l.InvoiceID] = struct{}{}

		day := l.Date.Format(dateLayout)
		p, ok := byDate[day]
		if !ok {
			p = &SalesPoint{Date: day}
			byDate[day] = p
		}
		p.Revenue += rev
		p.Units += l.Qty

		it, ok := byItem[l.ItemID]
		if !ok {
			it = &ItemSales{ItemID: l.ItemID}
			byItem[l.ItemID] = it
		}
		it.Revenue += rev
		it.Units += l.Qty
	}
	m.KPIs.UnitsSold = int(units)
	m.KPIs.Orders = len(invoices)
	if m.KPIs.Orders > 0 {
		m.KPIs.AOV = m.KPIs.Revenue / float64(m.KPIs.Orders)
	}

	for _, p := range byDate {
		m.SalesTrend = append(m.SalesTrend, *p)
	}
	sort.Slice(m.SalesTrend, func(i, j int) bool { return m.SalesTrend[i].Date < m.SalesTrend[j].Date })

	for _, it := range byItem {
		m.TopItems = append(m.TopItems, *it)
	}
	sort.Slice(m.TopItems, func(i, j int) bool {
		a, b := m.TopItems[i], m.TopItems[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		if a.Units != b.Units {
			return a.Units > b.Units
		}
		return a.ItemID < b.ItemID
	})
	if len(m.TopItems) > 10 {
		m.TopItems = m.TopItems[:10]
	}
	return m
}

func inventoryMetrics(lines []moveLine) *InventoryMetrics {
	m := &InventoryMetrics{InventoryLevels: []StockLevel{}, COGSTrend: []COGSPoint{}}
	onHand := map[string]float64{}
	items := []string{}
	cogsByDate := map[string]float64{}
	inValue := map[string]float64{}
	inQty := map[string]float64{}

	for _, l := range lines {
		if _, seen := onHand[l.ItemID]; !seen {
			items = append(items, l.ItemID)
		}
		switch l.Type {
		case "OUT":
			onHand[l.ItemID] -= l.Qty
			line := l.Qty * l.UnitCost
			m.KPIs.COGS += line
			cogsByDate[l.Date.Format(dateLayout)] += line
		default:
			onHand[l.ItemID] += l.Qty
		}
		if l.Type == "IN" || (l.Type == "ADJ" && l.Qty > 0) {
			inValue[l.ItemID] += l.Qty * l.UnitCost
			inQty[l.ItemID] += l.Qty
		}
	}

	sort.Strings(items)
	for _, id := range items {
		var wac float64
		if q := inQty[id]; q != 0 {
			wac = inValue[id] / q
		}
		m.InventoryLevels = append(m.InventoryLevels, StockLevel{
			ItemID: id,
			OnHand: onHand[id],
			WAC:    wac,
			Value:  onHand[id] * wac,
		})
	}
	for d, v := range cogsByDate {
		m.COGSTrend = append(m.COGSTrend, COGSPoint{Date: d, COGS: v})
	}
	sort.Slice(m.COGSTrend, func(i, j int) bool { return m.COGSTrend[i].Date < m.COGSTrend[j].Date })
	return m
}
