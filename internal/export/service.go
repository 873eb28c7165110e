// Package export renders canonical extractions as spreadsheets.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/reconcile"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
)

const sheet = "Parses"

// exportStatuses are the statuses that carry a canonical extraction.
var exportStatuses = []constants.ParseStatus{
	constants.ParseStatusCompleted,
	constants.ParseStatusNeedsReview,
	constants.ParseStatusArchived,
}

// Service is a tiny façade over the parse repository that produces XLSX bytes for exports.
type Service struct {
	repo   repository.ParseRepository
	logger *slog.Logger
}

func NewService(repo repository.ParseRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportParsesXLSX returns a workbook with one row per finalized parse of the owner and one
// column per tracked field. The window applies to the finalization date:
// only from -> from..today, only to -> beginning..to, neither -> everything.
func (s *Service) ExportParsesXLSX(ctx context.Context, ownerID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()
	fromDate, toDate := window(from, to)

	parses, err := s.repo.List(ctx, repository.ListFilter{OwnerID: ownerID, Statuses: exportStatuses})
	if err != nil {
		return nil, fmt.Errorf("query parses: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	headers := []string{"Parse ID", "File", "Status", "Needs Review", "Confidence", "Finalized"}
	for _, rule := range reconcile.FieldTable {
		headers = append(headers, rule.Name)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	row := 2
	for _, p := range parses {
		if p.Canonical == nil || !inWindow(p.FinalizedAt, fromDate, toDate) {
			continue
		}
		values, err := fieldValues(p.Canonical.ContractFields)
		if err != nil {
			s.logger.Warn("export.row.skipped", "parse_id", p.ID, "err", err)
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, p.ID.String())
		write(2, p.FileName)
		write(3, string(p.Status))
		write(4, p.NeedsReview())
		write(5, p.OverallConfidence())
		if p.FinalizedAt != nil {
			write(6, p.FinalizedAt.UTC().Format("2006-01-02"))
		}
		for i, rule := range reconcile.FieldTable {
			write(7+i, cellValue(values[rule.Name]))
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 28) // file
	_ = f.SetColWidth(sheet, "C", "F", 14)
	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "G", last, 30)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func window(from, to *time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	return fromDate, toDate
}

// inWindow compares dates only; both bounds are inclusive.
func inWindow(at, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if at == nil {
		return false
	}
	d := at.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	if from != nil && day.Before(*from) {
		return false
	}
	if to != nil && day.After(*to) {
		return false
	}
	return true
}

func fieldValues(f entity.ContractFields) (map[string]any, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	return out, json.Unmarshal(b, &out)
}

// cellValue flattens a field for a single cell: lists joined by "; ", objects as "key: value" pairs.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, fmt.Sprint(cellValue(e)))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, cellValue(t[k])))
		}
		return strings.Join(parts, "; ")
	default:
		return t
	}
}
