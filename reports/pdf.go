package reports

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func money(v float64) string { return printer.Sprintf("$%.2f", v) }

type rgb struct{ r, g, b int }

var (
	ink      = rgb{44, 62, 80}
	header   = rgb{52, 73, 94}
	beige    = rgb{245, 245, 220}
	palette  = []rgb{{255, 107, 107}, {78, 205, 196}, {69, 183, 209}, {150, 206, 180}, {255, 234, 167}}
	segments = []rgb{{231, 76, 60}, {243, 156, 18}, {46, 204, 113}}
)

type bar struct {
	label string
	value float64
	text  string
}

// WritePDF renders the report: a title page, the executive summary and one page per chart.
func WritePDF(w io.Writer, a *Analytics) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Business Intelligence Report", true)
	pdf.SetMargins(20, 20, 20)

	pdf.AddPage()
	pdf.SetY(90)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(ink.r, ink.g, ink.b)
	pdf.CellFormat(0, 14, "Business Intelligence Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 10, "Generated: "+a.Summary.GeneratedDate, "", 1, "C", false, 0, "")

	pdf.AddPage()
	heading(pdf, "Executive Summary")
	summaryTable(pdf, [][2]string{
		{"Total Revenue", money(a.Summary.TotalRevenue)},
		{"Total Customers", printer.Sprintf("%d", a.Summary.TotalCustomers)},
		{"Total Orders", printer.Sprintf("%d", a.Summary.TotalOrders)},
		{"Avg Order Value", money(a.Summary.AvgOrderValue)},
		{"Retention Rate", fmt.Sprintf("%.1f%%", a.Customers.RetentionRate)},
		{"Churn Risk Customers", printer.Sprintf("%d", a.Customers.ChurnRisk)},
	})

	var cats []bar
	for _, c := range a.Revenue.Categories {
		cats = append(cats, bar{c.Category, c.Revenue, money(c.Revenue)})
	}
	chartPage(pdf, "Revenue Distribution by Category", cats, palette)

	seg := a.Customers.Segments
	chartPage(pdf, "Customer Value Segmentation", []bar{
		{"High Value (>$1500)", float64(seg.HighValue), fmt.Sprint(seg.HighValue)},
		{"Medium Value ($500-$1500)", float64(seg.MediumValue), fmt.Sprint(seg.MediumValue)},
		{"Low Value (<$500)", float64(seg.LowValue), fmt.Sprint(seg.LowValue)},
	}, segments)

	var daily []bar
	for _, d := range a.Revenue.DailyTrends {
		daily = append(daily, bar{d.Date, d.Revenue, money(d.Revenue)})
	}
	chartPage(pdf, "Sales Performance Trends", daily, []rgb{{52, 152, 219}})

	var top []bar
	for _, p := range a.Inventory.Turnover.FastMovers {
		top = append(top, bar{p.ItemName, float64(p.Qty), fmt.Sprintf("%d units", p.Qty)})
	}
	chartPage(pdf, "Inventory Movement Analysis", top, []rgb{{68, 1, 84}, {59, 82, 139}, {33, 145, 140}, {94, 201, 98}, {253, 231, 37}})

	return pdf.Output(w)
}

func heading(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(ink.r, ink.g, ink.b)
	pdf.CellFormat(0, 12, title, "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func summaryTable(pdf *gofpdf.Fpdf, rows [][2]string) {
	const labelW, valueW, h = 76.0, 50.0, 9.0
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(header.r, header.g, header.b)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(labelW, h, "Metric", "1", 0, "C", true, 0, "")
	pdf.CellFormat(valueW, h, "Value", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetFillColor(beige.r, beige.g, beige.b)
	pdf.SetTextColor(0, 0, 0)
	for _, r := range rows {
		pdf.CellFormat(labelW, h, r[0], "1", 0, "C", true, 0, "")
		pdf.CellFormat(valueW, h, r[1], "1", 1, "C", true, 0, "")
	}
}

// chartPage draws a horizontal bar chart scaled to the largest value. Long series are cut to
// what fits on the page.
func chartPage(pdf *gofpdf.Fpdf, title string, bars []bar, colors []rgb) {
	pdf.AddPage()
	heading(pdf, title)
	if len(bars) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 8, "No data", "", 1, "L", false, 0, "")
		return
	}
	const (
		labelW = 55.0
		barMax = 85.0
		rowH   = 9.0
		maxRow = 24
	)
	if len(bars) > maxRow {
		bars = bars[len(bars)-maxRow:]
	}
	peak := 0.0
	for _, b := range bars {
		peak = max(peak, b.value)
	}
	left, _, _, _ := pdf.GetMargins()
	y := pdf.GetY()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(0, 0, 0)
	for i, b := range bars {
		c := colors[i%len(colors)]
		pdf.SetXY(left, y)
		pdf.CellFormat(labelW, rowH-2, tr(b.label), "", 0, "R", false, 0, "")
		width := 0.0
		if peak > 0 {
			width = b.value / peak * barMax
		}
		pdf.SetFillColor(c.r, c.g, c.b)
		pdf.Rect(left+labelW+2, y+0.5, width, rowH-3, "F")
		pdf.SetXY(left+labelW+4+width, y)
		pdf.CellFormat(30, rowH-2, b.text, "", 0, "L", false, 0, "")
		y += rowH
	}
	pdf.SetY(y)
}
