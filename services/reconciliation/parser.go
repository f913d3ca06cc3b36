package reconciliation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ParseReason explains why a statement row was rejected
type ParseReason string

const (
	ReasonMissingField      ParseReason = "missing field"
	ReasonNonNumericAmount  ParseReason = "non-numeric amount"
	ReasonNonPositiveAmount ParseReason = "zero or negative amount"
	ReasonTooPrecise        ParseReason = "amount has more than two decimal places"
	ReasonUnparseableDate   ParseReason = "unparseable date"
	ReasonMalformedRow      ParseReason = "malformed row"
)

// ParseError is a recoverable, row-level statement error
type ParseError struct {
	Row    int         `json:"row"`
	Field  string      `json:"field,omitempty"`
	Reason ParseReason `json:"reason"`
	Value  string      `json:"value,omitempty"`
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Value != "" {
		msg += fmt.Sprintf(": %q", e.Value)
	}
	return msg
}

// Entry is a well-formed candidate payment read from a statement
type Entry struct {
	Reference string
	Amount    decimal.Decimal
	Date      time.Time
}

// StatementRow holds exactly one of Entry or Err. Row is the 1-based line in
// the source file, header included.
type StatementRow struct {
	Row   int
	Entry *Entry
	Err   *ParseError
}

// Valid reports whether the row carries an Entry
func (r StatementRow) Valid() bool {
	return r.Entry != nil && r.Err == nil
}

// Column aliases accepted in the header row, compared after normalizeHeader
var headerAliases = map[string]string{
	"reference":        "reference",
	"ref":              "reference",
	"reference number": "reference",
	"reference no":     "reference",
	"description":      "reference",
	"amount":           "amount",
	"credit":           "amount",
	"credit amount":    "amount",
	"date":             "date",
	"transaction date": "date",
	"value date":       "date",
	"posting date":     "date",
}

// Slash dates are read day-first (02/01/2006 is 2 January)
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

// ParseStatement dispatches on the file extension; anything other than .xlsx is read as CSV
func ParseStatement(fileName string, r io.Reader) ([]StatementRow, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return ParseCSV(r)
	}
}

// ParseCSV reads a comma-delimited statement with a header row
func ParseCSV(r io.Reader) ([]StatementRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var records [][]string
	var lines []int
	var broken []StatementRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// An unterminated quote swallows the rest of the file into one field
			var perr *csv.ParseError
			if errors.As(err, &perr) && len(records) > 0 && !errors.Is(perr.Err, csv.ErrQuote) {
				broken = append(broken, StatementRow{
					Row: perr.StartLine,
					Err: &ParseError{Row: perr.StartLine, Reason: ReasonMalformedRow, Value: perr.Err.Error()},
				})
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}

	rows, err := parseRecords(records, lines, false)
	if err != nil {
		return nil, err
	}
	return mergeByRow(rows, broken), nil
}

// ParseXLSX reads the first worksheet of an Excel workbook
func ParseXLSX(r io.Reader) ([]StatementRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		sheet = "Sheet1"
	}
	data, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}

	lines := make([]int, len(data))
	for i := range data {
		lines[i] = i + 1
	}
	return parseRecords(data, lines, true)
}

// parseRecords turns raw cells into typed rows. The first non-blank record is
// the header. excelDates also accepts spreadsheet serial day numbers.
func parseRecords(records [][]string, lines []int, excelDates bool) ([]StatementRow, error) {
	start := -1
	for i, rec := range records {
		if !isBlank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrMalformedStatement)
	}

	cols, err := mapColumns(records[start])
	if err != nil {
		return nil, err
	}

	var rows []StatementRow
	for i := start + 1; i < len(records); i++ {
		rec := records[i]
		if isBlank(rec) {
			continue
		}
		rows = append(rows, parseRow(lines[i], rec, cols, excelDates))
	}
	return rows, nil
}

// mapColumns resolves the three semantic columns; exact names beat aliases
func mapColumns(header []string) (map[string]int, error) {
	cols := map[string]int{}
	for pass := 0; pass < 2; pass++ {
		for i, h := range header {
			key := normalizeHeader(h)
			field, ok := headerAliases[key]
			if !ok || (pass == 0 && key != field) {
				continue
			}
			if _, taken := cols[field]; !taken {
				cols[field] = i
			}
		}
	}
	var missing []string
	for _, field := range []string{"reference", "amount", "date"} {
		if _, ok := cols[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: header is missing column(s) %s", ErrMalformedStatement, strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(line int, rec []string, cols map[string]int, excelDates bool) StatementRow {
	get := func(field string) string {
		if idx, ok := cols[field]; ok && idx < len(rec) {
			return strings.TrimSpace(rec[idx])
		}
		return ""
	}
	fail := func(field string, reason ParseReason, value string) StatementRow {
		return StatementRow{Row: line, Err: &ParseError{Row: line, Field: field, Reason: reason, Value: value}}
	}

	ref := get("reference")
	rawAmount := get("amount")
	rawDate := get("date")
	switch {
	case ref == "":
		return fail("reference", ReasonMissingField, "")
	case rawAmount == "":
		return fail("amount", ReasonMissingField, "")
	case rawDate == "":
		return fail("date", ReasonMissingField, "")
	}

	amount, reason := parseAmount(rawAmount)
	if reason != "" {
		return fail("amount", reason, rawAmount)
	}

	date, ok := parseDate(rawDate, excelDates)
	if !ok {
		return fail("date", ReasonUnparseableDate, rawDate)
	}

	return StatementRow{Row: line, Entry: &Entry{Reference: ref, Amount: amount, Date: date}}
}

func parseAmount(s string) (decimal.Decimal, ParseReason) {
	clean := strings.NewReplacer(",", "", " ", "", "\u00a0", "", "฿", "", "$", "", "£", "", "€", "").Replace(s)
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, ReasonNonNumericAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ReasonNonPositiveAmount
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, ReasonTooPrecise
	}
	return d.Round(2), ""
}

func parseDate(s string, excelDates bool) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}
	if excelDates {
		if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
			if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return truncateDay(t), true
			}
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", "").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// mergeByRow interleaves rows the csv reader rejected back into file order
func mergeByRow(rows, broken []StatementRow) []StatementRow {
	if len(broken) == 0 {
		return rows
	}
	out := make([]StatementRow, 0, len(rows)+len(broken))
	i, j := 0, 0
	for i < len(rows) || j < len(broken) {
		if j >= len(broken) || (i < len(rows) && rows[i].Row < broken[j].Row) {
			out = append(out, rows[i])
			i++
			continue
		}
		out = append(out, broken[j])
		j++
	}
	return out
}

// readAllLimited buffers an upload so it can be both parsed and archived.
// A non-positive max reads without a cap.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrStatementTooLarge, limit)
	}
	return buf.Bytes(), nil
}
