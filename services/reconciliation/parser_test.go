package reconciliation

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	input := "\ufeff Reference , Amount ,Transaction Date\n" +
		"STU001,500.00,2025-03-05\n" +
		"\n" +
		"STU002,\"1,250.50\",05/03/2025\n" +
		",100,2025-03-05\n" +
		"STU003,abc,2025-03-05\n" +
		"STU004,-5,2025-03-05\n" +
		"STU005,10.005,2025-03-05\n" +
		"STU006,10,yesterday\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 7)

	require.True(t, rows[0].Valid())
	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, "STU001", rows[0].Entry.Reference)
	assert.Equal(t, "500.00", rows[0].Entry.Amount.StringFixed(2))
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), rows[0].Entry.Date)

	require.True(t, rows[1].Valid())
	assert.Equal(t, 4, rows[1].Row)
	assert.Equal(t, "1250.50", rows[1].Entry.Amount.StringFixed(2))
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), rows[1].Entry.Date, "slash dates are day-first")

	expected := []struct {
		row    int
		field  string
		reason ParseReason
	}{
		{5, "reference", ReasonMissingField},
		{6, "amount", ReasonNonNumericAmount},
		{7, "amount", ReasonNonPositiveAmount},
		{8, "amount", ReasonTooPrecise},
		{9, "date", ReasonUnparseableDate},
	}
	for i, exp := range expected {
		r := rows[i+2]
		require.False(t, r.Valid())
		assert.Equal(t, exp.row, r.Err.Row)
		assert.Equal(t, exp.field, r.Err.Field)
		assert.Equal(t, exp.reason, r.Err.Reason)
	}
}

func TestParseCSVRejectsWholeFile(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "blank lines only", input: "\n\n"},
		{name: "semicolon delimited", input: "reference;amount;date\nSTU001;500;2025-03-05\n"},
		{name: "missing date column", input: "reference,amount\nSTU001,500\n"},
		{name: "broken header quote", input: "\"reference,amount,date\nSTU001,500,2025-03-05\n"},
		{name: "unterminated quote in data row", input: "reference,amount,date\n" +
			"STU001,100.00,2025-03-04\n" +
			"\"STU002,100.00,2025-03-05\n" +
			"STU001,200.00,2025-03-06\n" +
			"STU001,300.00,2025-03-07\n"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tc.input))
			require.ErrorIs(t, err, ErrMalformedStatement)
		})
	}
}

func TestParseCSVBrokenRowIsRowLevel(t *testing.T) {
	input := "reference,amount,date\n" +
		"STU001,\"5\"00,2025-03-05\n" +
		"STU002,300,2025-03-05\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.False(t, rows[0].Valid())
	assert.Equal(t, ReasonMalformedRow, rows[0].Err.Reason)
	assert.Equal(t, 2, rows[0].Row)
	require.True(t, rows[1].Valid())
	assert.Equal(t, "STU002", rows[1].Entry.Reference)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		reason ParseReason
	}{
		{input: "500", want: "500.00"},
		{input: "0.01", want: "0.01"},
		{input: "฿1,000.50", want: "1000.50"},
		{input: "$ 12.5", want: "12.50"},
		{input: "0", reason: ReasonNonPositiveAmount},
		{input: "-1.00", reason: ReasonNonPositiveAmount},
		{input: "1.001", reason: ReasonTooPrecise},
		{input: "twelve", reason: ReasonNonNumericAmount},
	}
	for _, tc := range tests {
		got, reason := parseAmount(tc.input)
		assert.Equal(t, tc.reason, reason, tc.input)
		if tc.reason == "" {
			assert.Equal(t, tc.want, got.StringFixed(2), tc.input)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2025-03-05",
		"2025-03-05T14:22:00+07:00",
		"2025-03-05 08:00:00",
		"2025/03/05",
		"05/03/2025",
		"5/3/2025",
		"05-03-2025",
		"05 Mar 2025",
		"5 Mar 2025",
		"05-Mar-2025",
	} {
		got, ok := parseDate(s, false)
		require.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}

	_, ok := parseDate("45721", false)
	assert.False(t, ok, "serial numbers are only accepted from spreadsheets")

	got, ok := parseDate("45721", true)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Description", "Credit Amount", "Value Date"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Tuition STU001", 500, "2025-03-05"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"STU002", "abc", "2025-03-05"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"STU003", 75.25, 45721}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	rows, err := ParseStatement("march.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.True(t, rows[0].Valid())
	assert.Equal(t, "Tuition STU001", rows[0].Entry.Reference)
	assert.Equal(t, "500.00", rows[0].Entry.Amount.StringFixed(2))

	require.False(t, rows[1].Valid())
	assert.Equal(t, 3, rows[1].Row)
	assert.Equal(t, ReasonNonNumericAmount, rows[1].Err.Reason)

	require.True(t, rows[2].Valid())
	assert.Equal(t, "75.25", rows[2].Entry.Amount.StringFixed(2))
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), rows[2].Entry.Date)
}
