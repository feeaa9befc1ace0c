package csvdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adonese/bizpilot/fields"
)

// table is a parsed CSV file with trimmed header names.
type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// readTable parses path. When limit > 0 at most limit+1 data rows are read, which is enough to
// tell that the file is over the limit.
func readTable(path string, limit int) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(f, limit)
}

func parseTable(r io.Reader, limit int) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	t := &table{index: map[string]int{}}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		t.header = append(t.header, name)
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
		if limit > 0 && len(t.rows) > limit {
			break
		}
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (t *table) missing(required []string) []string {
	out := []string{}
	for _, c := range required {
		if _, ok := t.index[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// get returns the trimmed cell of column name in row, "" when absent.
func (t *table) get(row []string, name string) string {
	i, ok := t.index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// number parses a numeric cell; blanks count as zero.
func number(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
}

func date(v string) (time.Time, error) {
	return time.Parse(dateLayout, v)
}

// checkRows enforces the date, numeric and inventory type rules on every row.
func (t *table) checkRows(ctype string) error {
	dcol := dateColumn(ctype)
	for i, row := range t.rows {
		line := i + 2
		if v := t.get(row, dcol); v == "" {
			return fmt.Errorf("row %d: %s is empty", line, dcol)
		} else if _, err := date(v); err != nil {
			return fmt.Errorf("row %d: %s %q does not match format YYYY-MM-DD", line, dcol, v)
		}
		for _, col := range numericColumns(ctype) {
			if _, err := number(t.get(row, col)); err != nil {
				return fmt.Errorf("row %d: %s %q is not numeric", line, col, t.get(row, col))
			}
		}
		if ctype == fields.CSVInventory {
			switch strings.ToUpper(t.get(row, "type")) {
			case "IN", "OUT", "ADJ":
			default:
				return errors.New("type must be IN|OUT|ADJ")
			}
		}
	}
	return nil
}
