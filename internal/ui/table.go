package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// Table collects rows and renders them as an aligned text table.
type Table struct {
	table *tablewriter.Table
	rows  int
}

// NewTable starts a table with the given column headers.
func NewTable(out io.Writer, header ...string) *Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return &Table{table: table}
}

// Append adds a row. Values are formatted with %v; nil becomes empty.
func (t *Table) Append(values ...interface{}) {
	row := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			row[i] = fmt.Sprintf("%v", v)
		}
	}
	t.table.Append(row)
	t.rows++
}

// Len returns the number of rows appended.
func (t *Table) Len() int { return t.rows }

// Render writes the table.
func (t *Table) Render() {
	t.table.Render()
}

// Bytes formats a size such as "82 MB". Negative sizes are unknown.
func Bytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// Count formats an integer with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

// Ago formats t relative to now; the zero time is "never".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// AgoPtr is Ago for optional times.
func AgoPtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return Ago(*t)
}
