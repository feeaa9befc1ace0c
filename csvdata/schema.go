// Package csvdata handles sales and inventory CSV uploads: storing and validating the files,
// computing dashboard metrics, asking the LLM for insights and ingesting sales into customers.
package csvdata

import (
	"bytes"
	"encoding/csv"

	"github.com/adonese/bizpilot/fields"
)

var (
	SalesColumns     = []string{"invoice_id", "invoice_date", "customer_id", "item_id", "qty", "unit_price"}
	InventoryColumns = []string{"move_id", "move_date", "item_id", "type", "qty", "unit_cost"}
)

const dateLayout = "2006-01-02"

// Required returns the mandatory header of a csv type, or nil for unknown types.
func Required(ctype string) []string {
	switch ctype {
	case fields.CSVSales:
		return SalesColumns
	case fields.CSVInventory:
		return InventoryColumns
	}
	return nil
}

func dateColumn(ctype string) string {
	if ctype == fields.CSVSales {
		return "invoice_date"
	}
	return "move_date"
}

func numericColumns(ctype string) []string {
	if ctype == fields.CSVSales {
		return []string{"qty", "unit_price"}
	}
	return []string{"qty", "unit_cost"}
}

// Template renders the header-only CSV served as a download.
func Template(ctype string) ([]byte, bool) {
	cols := Required(ctype)
	if cols == nil {
		return nil, false
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(cols)
	w.Flush()
	return buf.Bytes(), true
}
