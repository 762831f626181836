package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Summary"
	sheetTimeline = "Timeline"
)

// WriteXLSX writes r as a workbook with a Summary and a Timeline sheet.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetTimeline); err != nil {
		return fmt.Errorf("create timeline sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeSummarySheet(f, r, bold); err != nil {
		return err
	}
	if err := writeTimelineSheet(f, r, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, r *Report, headerStyle int) error {
	header := make([]any, len(summaryHeader))
	for i, h := range summaryHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetSummary, "A1", &header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(summaryHeader), 1)
	if err := f.SetCellStyle(sheetSummary, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}

	for i, row := range r.Summary {
		var end any
		if row.EstimatedEndAt != nil {
			end = *row.EstimatedEndAt
		}
		values := []any{
			row.Operation,
			row.Outcome,
			row.RequestedCount,
			row.OrderID,
			row.OrderStatus,
			row.ServiceDuration,
			row.DurationMinutes,
			row.Cost,
			row.StartedAt,
			end,
			row.Error,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetSummary, cell, &values); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeTimelineSheet(f *excelize.File, r *Report, labelStyle int) error {
	t := r.Timeline

	rows := make([][]any, 0, len(t.Series)+3)

	labels := make([]any, 0, len(t.Labels)+1)
	labels = append(labels, "Time")
	for _, l := range t.Labels {
		labels = append(labels, l)
	}
	rows = append(rows, labels)

	cost := make([]any, 0, len(t.Cost)+1)
	cost = append(cost, "Cost")
	for _, c := range t.Cost {
		if c == 0 {
			cost = append(cost, nil)
			continue
		}
		cost = append(cost, c)
	}
	rows = append(rows, cost)

	for _, s := range t.Series {
		rows = append(rows, countCells(fmt.Sprintf("Operation %d", s.Operation), s.Values))
	}
	rows = append(rows, countCells("Total", t.Total))

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetTimeline, cell, &rows[i]); err != nil {
			return fmt.Errorf("write timeline row %d: %w", i+1, err)
		}
	}

	lastLabel, _ := excelize.CoordinatesToCellName(1, len(rows))
	if err := f.SetCellStyle(sheetTimeline, "A1", lastLabel, labelStyle); err != nil {
		return fmt.Errorf("style timeline labels: %w", err)
	}
	if err := f.SetPanes(sheetTimeline, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      2,
		TopLeftCell: "B3",
		ActivePane:  "bottomRight",
	}); err != nil {
		return fmt.Errorf("freeze timeline panes: %w", err)
	}
	return nil
}

func countCells(label string, values []int) []any {
	row := make([]any, 0, len(values)+1)
	row = append(row, label)
	for _, v := range values {
		if v == 0 {
			row = append(row, nil)
			continue
		}
		row = append(row, v)
	}
	return row
}
