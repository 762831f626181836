// Package metrics computes dashboard rollups from the global operations
// history and reset logs.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/seantiz/servicedg/internal/model"
)

// Snapshot is one full recomputation of the dashboard figures.
type Snapshot struct {
	ComputedAt           time.Time      `json:"computed_at"`
	TotalOperations      int            `json:"total_operations"`
	SuccessfulOperations int            `json:"successful_operations"`
	FailedOperations     int            `json:"failed_operations"`
	TotalCost            float64        `json:"total_cost"`
	TotalViewers         int            `json:"total_viewers"`
	SuccessRate          float64        `json:"success_rate"`
	CostPerViewer        float64        `json:"cost_per_viewer"`
	ByDuration           []DurationStat `json:"by_duration"`
	ByBlock              []BlockStat    `json:"by_block"`
	Resets               ResetStat      `json:"resets"`
}

// DurationStat groups operations by service duration.
type DurationStat struct {
	DurationID string  `json:"duration_id"`
	Hours      float64 `json:"hours"`
	Operations int     `json:"operations"`
	Successful int     `json:"successful"`
	Viewers    int     `json:"viewers"`
	Cost       float64 `json:"cost"`
}

// BlockStat groups operations by block.
type BlockStat struct {
	BlockID    string  `json:"block_id"`
	BlockTitle string  `json:"block_title"`
	Operations int     `json:"operations"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Viewers    int     `json:"viewers"`
	Cost       float64 `json:"cost"`
}

// ResetStat totals the reset audit log.
type ResetStat struct {
	Count          int `json:"count"`
	OperationsLost int `json:"operations_lost"`
	ViewersLost    int `json:"viewers_lost"`
}

// Compute scans history and resets from scratch. The history log is the only
// source of operation results; block state is never merged in.
func Compute(history []model.HistoryEntry, resets []model.ResetRecord, now time.Time) Snapshot {
	s := Snapshot{ComputedAt: now.UTC()}

	byDuration := make(map[string]*DurationStat)
	byBlock := make(map[string]*BlockStat)

	for _, e := range history {
		s.TotalOperations++

		bs, ok := byBlock[e.BlockID]
		if !ok {
			bs = &BlockStat{BlockID: e.BlockID}
			byBlock[e.BlockID] = bs
		}
		bs.BlockTitle = e.BlockTitle
		bs.Operations++

		ds, ok := byDuration[e.ServiceDurationID]
		if !ok {
			hours, _ := model.DurationHours(e.ServiceDurationID)
			ds = &DurationStat{DurationID: e.ServiceDurationID, Hours: hours}
			byDuration[e.ServiceDurationID] = ds
		}
		ds.Operations++

		if !e.Succeeded() {
			s.FailedOperations++
			bs.Failed++
			continue
		}
		s.SuccessfulOperations++
		s.TotalCost += e.Cost
		s.TotalViewers += e.RequestedCount

		bs.Successful++
		bs.Viewers += e.RequestedCount
		bs.Cost += e.Cost

		ds.Successful++
		ds.Viewers += e.RequestedCount
		ds.Cost += e.Cost
	}

	for _, r := range resets {
		s.Resets.Count++
		s.Resets.OperationsLost += r.OperationsLost
		s.Resets.ViewersLost += r.ViewersLost
	}

	if s.TotalOperations > 0 {
		s.SuccessRate = round(float64(s.SuccessfulOperations)/float64(s.TotalOperations)*100, 2)
	}
	if s.TotalViewers > 0 {
		s.CostPerViewer = round(s.TotalCost/float64(s.TotalViewers), 4)
	}
	s.TotalCost = round(s.TotalCost, 2)

	for _, ds := range byDuration {
		ds.Cost = round(ds.Cost, 2)
		s.ByDuration = append(s.ByDuration, *ds)
	}
	sort.Slice(s.ByDuration, func(i, j int) bool {
		if s.ByDuration[i].Hours != s.ByDuration[j].Hours {
			return s.ByDuration[i].Hours < s.ByDuration[j].Hours
		}
		return s.ByDuration[i].DurationID < s.ByDuration[j].DurationID
	})

	for _, bs := range byBlock {
		bs.Cost = round(bs.Cost, 2)
		s.ByBlock = append(s.ByBlock, *bs)
	}
	sort.Slice(s.ByBlock, func(i, j int) bool {
		return s.ByBlock[i].BlockID < s.ByBlock[j].BlockID
	})

	return s
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
