package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/servicedg/internal/history"
	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/store"
)

const dateLayout = "2006-01-02"

type historyResponse struct {
	Entries []model.HistoryEntry `json:"entries"`
	Total   int                  `json:"total"`
}

type resetsResponse struct {
	Resets []model.ResetRecord `json:"resets"`
	Total  int                 `json:"total"`
}

type operationsResponse struct {
	Records []*store.OperationRecord `json:"records"`
	Total   int                      `json:"total"`
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("compute metrics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleListHistory returns the global history log, optionally filtered by
// block_id.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListHistory(r.Context())
	if err != nil {
		s.logger.Error("list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if blockID := r.URL.Query().Get("block_id"); blockID != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.BlockID == blockID {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	s.writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Total: len(entries)})
}

func (s *Server) handleListResets(w http.ResponseWriter, r *http.Request) {
	resets, err := s.store.ListResets(r.Context())
	if err != nil {
		s.logger.Error("list resets", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list resets")
		return
	}
	if resets == nil {
		resets = []model.ResetRecord{}
	}
	s.writeJSON(w, http.StatusOK, resetsResponse{Resets: resets, Total: len(resets)})
}

// handleRecordOperation stores one operation result for the user named by
// the X-User-Id header.
func (s *Server) handleRecordOperation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(history.UserHeader))
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, history.UserHeader+" header is required")
		return
	}

	var entry model.HistoryEntry
	if err := decodeBody(w, r, &entry); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if entry.StartedAt.IsZero() {
		s.writeError(w, http.StatusBadRequest, "started_at is required")
		return
	}

	rec := &store.OperationRecord{
		ID:        model.NewID(),
		UserID:    userID,
		Entry:     entry,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertOperationRecord(r.Context(), rec); err != nil {
		s.logger.Error("insert operation record", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record operation")
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// handleQueryOperations lists a user's operation records between startDate
// and endDate. Dates are RFC 3339 timestamps or YYYY-MM-DD days; a day-only
// endDate includes the whole day.
func (s *Server) handleQueryOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	from, err := parseDate(q.Get("startDate"), false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	to, err := parseDate(q.Get("endDate"), true)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		s.writeError(w, http.StatusBadRequest, "endDate is before startDate")
		return
	}

	records, err := s.store.ListOperationRecords(r.Context(), store.OperationQuery{UserID: userID, From: from, To: to})
	if err != nil {
		s.logger.Error("list operation records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if records == nil {
		records = []*store.OperationRecord{}
	}
	s.writeJSON(w, http.StatusOK, operationsResponse{Records: records, Total: len(records)})
}

// parseDate parses an RFC 3339 timestamp or a UTC day. With endOfDay a day
// resolves to its last millisecond. An empty string yields the zero time.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	day, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Millisecond), nil
	}
	return day, nil
}
