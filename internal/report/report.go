// Package report turns a block's operation log into a two sheet report: a
// flat summary of every operation and a timeline of viewer coverage over a
// fixed axis of time buckets.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/model"
)

// Axis is the fixed time window of the timeline sheet.
type Axis struct {
	Start    model.ClockTime
	End      model.ClockTime
	Bucket   time.Duration
	Location *time.Location
}

// DefaultAxis spans 10:25 to 23:00 local time in one minute buckets.
func DefaultAxis() Axis {
	return Axis{
		Start:    model.ClockTime{Hour: 10, Minute: 25},
		End:      model.ClockTime{Hour: 23, Minute: 0},
		Bucket:   time.Minute,
		Location: time.Local,
	}
}

// AxisFromConfig builds the axis described by cfg.
func AxisFromConfig(cfg config.ReportConfig) (Axis, error) {
	start, err := model.ParseClock(cfg.AxisStart)
	if err != nil {
		return Axis{}, fmt.Errorf("axis start: %w", err)
	}
	end, err := model.ParseClock(cfg.AxisEnd)
	if err != nil {
		return Axis{}, fmt.Errorf("axis end: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return Axis{}, fmt.Errorf("axis location: %w", err)
	}
	bucket := time.Duration(cfg.BucketMinutes) * time.Minute
	if bucket <= 0 {
		bucket = time.Minute
	}
	return Axis{Start: start, End: end, Bucket: bucket, Location: loc}, nil
}

// Window returns the axis bounds on the calendar day of ref. Both ends are
// bucket labels, so the end clock is the last bucket on the axis.
func (a Axis) Window(ref time.Time) (start, end time.Time) {
	ref = ref.In(a.location())
	return a.Start.On(ref), a.End.On(ref)
}

// Len returns the number of buckets on the axis.
func (a Axis) Len() int {
	start, end := a.Window(time.Date(2000, 1, 1, 0, 0, 0, 0, a.location()))
	if end.Before(start) || a.Bucket <= 0 {
		return 0
	}
	return int(end.Sub(start)/a.Bucket) + 1
}

// Index maps instant t onto the axis anchored at day. It reports false when
// t falls outside the window.
func (a Axis) Index(day, t time.Time) (int, bool) {
	start, _ := a.Window(day)
	if t.Before(start) {
		return 0, false
	}
	i := int(t.Sub(start) / a.Bucket)
	if i >= a.Len() {
		return 0, false
	}
	return i, true
}

// Labels returns the HH:MM label of every bucket.
func (a Axis) Labels() []string {
	start, _ := a.Window(time.Date(2000, 1, 1, 0, 0, 0, 0, a.location()))
	n := a.Len()
	labels := make([]string, n)
	for i := range n {
		labels[i] = start.Add(time.Duration(i) * a.Bucket).Format("15:04")
	}
	return labels
}

func (a Axis) location() *time.Location {
	if a.Location == nil {
		return time.Local
	}
	return a.Location
}

// Report is the materialized output for one block run.
type Report struct {
	ID          string            `json:"id"`
	BlockID     string            `json:"block_id"`
	BlockTitle  string            `json:"block_title"`
	GeneratedAt time.Time         `json:"generated_at"`
	Day         time.Time         `json:"day"`
	Config      model.BlockConfig `json:"config"`
	Totals      Totals            `json:"totals"`
	Summary     []Row             `json:"summary"`
	Timeline    Timeline          `json:"timeline"`
	Skipped     []int             `json:"skipped,omitempty"`
}

// Totals aggregates the operation log.
type Totals struct {
	Operations     int     `json:"operations"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	Viewers        int     `json:"viewers"`
	Cost           float64 `json:"cost"`
	CoveredBuckets int     `json:"covered_buckets"`
	PeakViewers    int     `json:"peak_viewers"`
}

// Row is one flattened operation of the summary sheet.
type Row struct {
	Operation       int        `json:"operation"`
	Outcome         string     `json:"outcome"`
	RequestedCount  int        `json:"requested_count"`
	OrderID         string     `json:"order_id"`
	OrderStatus     string     `json:"order_status"`
	ServiceDuration string     `json:"service_duration"`
	DurationMinutes int        `json:"duration_minutes"`
	Cost            float64    `json:"cost"`
	StartedAt       time.Time  `json:"started_at"`
	EstimatedEndAt  *time.Time `json:"estimated_end_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Timeline is the time bucketed sheet. Cost holds, per bucket, the cost of
// the orders starting in it. Series holds one row per successful operation
// that starts inside the window, and Total sums them per bucket.
type Timeline struct {
	Labels []string  `json:"labels"`
	Cost   []float64 `json:"cost"`
	Series []Series  `json:"series"`
	Total  []int     `json:"total"`
}

// Series is the coverage of one order across the axis.
type Series struct {
	Operation int   `json:"operation"`
	Values    []int `json:"values"`
}

// Build produces the report for b over axis. Successful entries whose start
// falls outside the axis window are listed in Skipped and appear in the
// summary only.
func Build(b *model.Block, axis Axis, now time.Time) *Report {
	r := &Report{
		ID:          model.NewIDAt(now),
		BlockID:     b.ID,
		BlockTitle:  b.Title,
		GeneratedAt: now.UTC(),
		Day:         reportDay(b, axis, now),
		Config:      b.Config,
	}

	n := axis.Len()
	r.Timeline = Timeline{
		Labels: axis.Labels(),
		Cost:   make([]float64, n),
		Total:  make([]int, n),
	}

	for _, op := range b.OperationLog {
		r.Summary = append(r.Summary, Row{
			Operation:       op.Index + 1,
			Outcome:         op.Outcome,
			RequestedCount:  op.RequestedCount,
			OrderID:         op.OrderID,
			OrderStatus:     op.OrderStatus,
			ServiceDuration: op.ServiceDurationID,
			DurationMinutes: op.ServiceDurationMinutes,
			Cost:            op.Cost,
			StartedAt:       op.StartedAt,
			EstimatedEndAt:  op.EstimatedEndAt,
			Error:           op.Error,
		})

		r.Totals.Operations++
		if !op.Succeeded() {
			r.Totals.Failed++
			continue
		}
		r.Totals.Successful++
		r.Totals.Viewers += op.RequestedCount
		r.Totals.Cost += op.Cost

		idx, ok := axis.Index(r.Day, op.StartedAt)
		if !ok {
			r.Skipped = append(r.Skipped, op.Index+1)
			continue
		}

		values := make([]int, n)
		span := int((time.Duration(op.ServiceDurationMinutes)*time.Minute + axis.Bucket - 1) / axis.Bucket)
		for i := idx; i < idx+span && i < n; i++ {
			values[i] = op.RequestedCount
			r.Timeline.Total[i] += op.RequestedCount
		}
		r.Timeline.Cost[idx] += op.Cost
		r.Timeline.Series = append(r.Timeline.Series, Series{Operation: op.Index + 1, Values: values})
	}

	r.Totals.Cost = math.Round(r.Totals.Cost*100) / 100
	for _, v := range r.Timeline.Total {
		if v > 0 {
			r.Totals.CoveredBuckets++
		}
		if v > r.Totals.PeakViewers {
			r.Totals.PeakViewers = v
		}
	}
	return r
}

// reportDay picks the calendar day the axis is anchored to: the run start,
// then the first logged operation, then now.
func reportDay(b *model.Block, axis Axis, now time.Time) time.Time {
	switch {
	case b.StartedAt != nil:
		return b.StartedAt.In(axis.location())
	case len(b.OperationLog) > 0:
		return b.OperationLog[0].StartedAt.In(axis.location())
	default:
		return now.In(axis.location())
	}
}
