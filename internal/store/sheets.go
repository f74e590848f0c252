package store

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ratescout/ratescout/internal/app"
)

// Column layout inherited from the tracker sheet: A anchors the row range,
// B holds thread URLs, I holds results.
const (
	anchorColumn = "A"
	urlColumn    = "B"
	resultColumn = "I"
)

// SheetStore implements RowStore on a Google Sheets worksheet using a
// service account.
type SheetStore struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
}

var _ RowStore = (*SheetStore)(nil)

// NewSheetStore authenticates with the service-account credentials and binds
// to the configured worksheet.
func NewSheetStore(ctx context.Context, cfg app.SheetConfig) (*SheetStore, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	return &SheetStore{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     cfg.Worksheet,
	}, nil
}

// Columns reads the anchor, URL, and result columns in one batched call.
func (s *SheetStore) Columns(ctx context.Context) (*Columns, error) {
	resp, err := s.svc.Spreadsheets.Values.BatchGet(s.spreadsheetID).
		Ranges(
			s.columnRange(anchorColumn),
			s.columnRange(urlColumn),
			s.columnRange(resultColumn),
		).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading queue columns: %w", err)
	}
	if len(resp.ValueRanges) != 3 {
		return nil, fmt.Errorf("reading queue columns: got %d ranges, want 3", len(resp.ValueRanges))
	}

	anchor := columnStrings(resp.ValueRanges[0])
	for len(anchor) > 0 && strings.TrimSpace(anchor[len(anchor)-1]) == "" {
		anchor = anchor[:len(anchor)-1]
	}
	bottom := len(anchor)

	cols := &Columns{
		Bottom:  bottom,
		URLs:    padColumn(columnStrings(resp.ValueRanges[1]), bottom),
		Results: padColumn(columnStrings(resp.ValueRanges[2]), bottom),
	}
	return cols, nil
}

// MarkManual is a targeted single-cell write so a stuck row is visible
// immediately, independent of batching.
func (s *SheetStore) MarkManual(ctx context.Context, row int) error {
	vr := &sheets.ValueRange{Values: [][]any{{CellManual}}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.cellRef(row), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("marking row %d manual: %w", row, err)
	}
	return nil
}

// ClearResults blanks the result cells of the given rows in one batch.
func (s *SheetStore) ClearResults(ctx context.Context, rows []int) error {
	updates := make([]Update, len(rows))
	for i, row := range rows {
		updates[i] = Update{Row: row, Value: ""}
	}
	return s.BatchWrite(ctx, updates)
}

// BatchWrite flushes classified results as one values.batchUpdate call.
func (s *SheetStore) BatchWrite(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, len(updates))
	for i, u := range updates {
		data[i] = &sheets.ValueRange{
			Range:  s.cellRef(u.Row),
			Values: [][]any{{u.Value}},
		}
	}
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing %d result cells: %w", len(updates), err)
	}
	return nil
}

func (s *SheetStore) columnRange(col string) string {
	return fmt.Sprintf("'%s'!%s:%s", s.worksheet, col, col)
}

func (s *SheetStore) cellRef(row int) string {
	return fmt.Sprintf("'%s'!%s%d", s.worksheet, resultColumn, row)
}

func columnStrings(vr *sheets.ValueRange) []string {
	if vr == nil {
		return nil
	}
	out := make([]string, 0, len(vr.Values))
	for _, rowVals := range vr.Values {
		if len(rowVals) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, fmt.Sprint(rowVals[0]))
	}
	return out
}

func padColumn(col []string, length int) []string {
	for len(col) < length {
		col = append(col, "")
	}
	return col[:length]
}
