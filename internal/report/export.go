package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format is an export file format.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat resolves a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Filename returns the download name of r in format f.
func (f Format) Filename(r *Report) string {
	return fmt.Sprintf("%s-%s.%s", r.BlockID, r.Day.Format("2006-01-02"), f)
}

// Write encodes r to w in format f.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatXLSX:
		return WriteXLSX(w, r)
	case FormatHTML:
		return WriteHTML(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

var summaryHeader = []string{
	"Operation", "Outcome", "Requested", "Order ID", "Order Status",
	"Duration", "Minutes", "Cost", "Started At", "Estimated End", "Error",
}

func (row Row) strings() []string {
	end := ""
	if row.EstimatedEndAt != nil {
		end = row.EstimatedEndAt.Format(time.RFC3339)
	}
	return []string{
		strconv.Itoa(row.Operation),
		row.Outcome,
		strconv.Itoa(row.RequestedCount),
		row.OrderID,
		row.OrderStatus,
		row.ServiceDuration,
		strconv.Itoa(row.DurationMinutes),
		formatCost(row.Cost),
		row.StartedAt.Format(time.RFC3339),
		end,
		row.Error,
	}
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

// WriteCSV writes the summary sheet, a blank line, then the timeline sheet.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, row := range r.Summary {
		if err := cw.Write(row.strings()); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	if err := cw.Write(nil); err != nil {
		return fmt.Errorf("write separator: %w", err)
	}

	for _, rec := range timelineRecords(r) {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write timeline row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// timelineRecords renders the timeline sheet as string rows: the bucket
// labels, the cost row, one row per operation, then the total.
func timelineRecords(r *Report) [][]string {
	t := r.Timeline
	records := make([][]string, 0, len(t.Series)+3)

	records = append(records, append([]string{"Time"}, t.Labels...))

	cost := make([]string, 0, len(t.Cost)+1)
	cost = append(cost, "Cost")
	for _, c := range t.Cost {
		if c == 0 {
			cost = append(cost, "")
			continue
		}
		cost = append(cost, formatCost(c))
	}
	records = append(records, cost)

	for _, s := range t.Series {
		records = append(records, countRow(fmt.Sprintf("Operation %d", s.Operation), s.Values))
	}
	records = append(records, countRow("Total", t.Total))
	return records
}

func countRow(label string, values []int) []string {
	row := make([]string, 0, len(values)+1)
	row = append(row, label)
	for _, v := range values {
		if v == 0 {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.Itoa(v))
	}
	return row
}
