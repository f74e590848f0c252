// Package store is the external work queue: an ordered column of deal-thread
// URLs with a result column beside it. The queue is read as whole-column
// snapshots once per cycle and written back in small batches.
package store

import (
	"context"
	"strings"
)

// Result cell values written back to the queue, exactly as the downstream
// tooling expects them.
const (
	CellManual      = "MANUAL"
	CellSiteError   = "400 Error"
	CellNonMerchant = "NON-AMAZON"
)

// Rows start at 2: row 1 is the header.
const firstDataRow = 2

// Columns is a point-in-time snapshot of the queue.
type Columns struct {
	// Bottom is the last anchored row (1-based), derived from the anchor
	// column with trailing blanks trimmed.
	Bottom int
	// URLs and Results are the thread-URL and result columns, padded out
	// to Bottom entries. Index 0 is row 1.
	URLs    []string
	Results []string
}

// WorkItem is one unit of the queue: a row position and its thread URL.
type WorkItem struct {
	Row       int
	ThreadURL string
}

// Update is a single result-cell write.
type Update struct {
	Row   int
	Value string
}

// RowStore is the queue backend contract. Implementations must keep
// MarkManual a targeted single-cell write; BatchWrite may coalesce.
type RowStore interface {
	Columns(ctx context.Context) (*Columns, error)
	MarkManual(ctx context.Context, row int) error
	ClearResults(ctx context.Context, rows []int) error
	BatchWrite(ctx context.Context, updates []Update) error
}

// Pending selects rows with a URL and no result, in descending row order so
// the most recently added threads are processed first.
func Pending(c *Columns) []WorkItem {
	var items []WorkItem
	for row := c.Bottom; row >= firstDataRow; row-- {
		url := strings.TrimSpace(c.cell(c.URLs, row))
		result := strings.TrimSpace(c.cell(c.Results, row))
		if url != "" && result == "" {
			items = append(items, WorkItem{Row: row, ThreadURL: url})
		}
	}
	return items
}

// Manual selects rows currently marked MANUAL, in ascending row order, for
// the dedicated retry pass.
func Manual(c *Columns) []WorkItem {
	var items []WorkItem
	for row := firstDataRow; row <= c.Bottom; row++ {
		url := strings.TrimSpace(c.cell(c.URLs, row))
		result := strings.ToUpper(strings.TrimSpace(c.cell(c.Results, row)))
		if url != "" && result == CellManual {
			items = append(items, WorkItem{Row: row, ThreadURL: url})
		}
	}
	return items
}

func (c *Columns) cell(col []string, row int) string {
	if row-1 < len(col) {
		return col[row-1]
	}
	return ""
}
