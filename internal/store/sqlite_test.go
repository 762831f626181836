package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/servicedg/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeHistoryEntry(blockID, orderID, outcome string, count int) model.HistoryEntry {
	return model.HistoryEntry{
		ID:         model.NewID(),
		BlockID:    blockID,
		BlockTitle: "Block " + blockID,
		SavedAt:    time.Now().UTC(),
		OperationResult: model.OperationResult{
			Outcome:                outcome,
			RequestedCount:         count,
			OrderID:                orderID,
			ServiceDurationID:      model.Duration1h,
			ServiceDurationMinutes: 60,
			StartedAt:              time.Now().UTC().Truncate(time.Second),
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := model.Block{ID: "block-1", Title: "Block 1", RunState: model.StatePaused, CurrentOperationIndex: 3}
	if err := s.Save(ctx, "block:block-1", b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got model.Block
	savedAt, err := s.Load(ctx, "block:block-1", &got)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != b.ID || got.RunState != b.RunState || got.CurrentOperationIndex != 3 {
		t.Errorf("Load = %+v, want %+v", got, b)
	}
	if time.Since(savedAt) > time.Minute {
		t.Errorf("savedAt = %v, want recent", savedAt)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "k", map[string]int{"v": 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "k", map[string]int{"v": 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got map[string]int
	if _, err := s.Load(ctx, "k", &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["v"] != 2 {
		t.Errorf("v = %d, want 2", got["v"])
	}
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t)

	var got model.Block
	_, err := s.Load(context.Background(), "missing", &got)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value_json, updated_at) VALUES (?, ?, ?)",
		"block:block-2", "{not json", time.Now().UnixMilli(),
	); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	var got model.Block
	_, err := s.Load(ctx, "block:block-2", &got)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load error = %v, want ErrCorrupt", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "k", "v"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var v string
	if _, err := s.Load(ctx, "k", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestHistoryAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, count := range []int{50, 60, 70} {
		outcome := model.OutcomeSuccess
		if i == 1 {
			outcome = model.OutcomeError
		}
		if err := s.AppendHistory(ctx, makeHistoryEntry("block-1", "", outcome, count)); err != nil {
			t.Fatalf("AppendHistory[%d]: %v", i, err)
		}
	}

	entries, err := s.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i, want := range []int{50, 60, 70} {
		if entries[i].RequestedCount != want {
			t.Errorf("entries[%d].RequestedCount = %d, want %d", i, entries[i].RequestedCount, want)
		}
	}
	if entries[1].Outcome != model.OutcomeError {
		t.Errorf("entries[1].Outcome = %q, want error", entries[1].Outcome)
	}
}

func TestUpdateHistoryOrderStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendHistory(ctx, makeHistoryEntry("block-1", "1001", model.OutcomeSuccess, 50)); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := s.AppendHistory(ctx, makeHistoryEntry("block-1", "1002", model.OutcomeSuccess, 60)); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := s.UpdateHistoryOrderStatus(ctx, "1002", "In progress"); err != nil {
		t.Fatalf("UpdateHistoryOrderStatus: %v", err)
	}

	entries, err := s.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if entries[0].OrderStatus != "" {
		t.Errorf("entries[0].OrderStatus = %q, want empty", entries[0].OrderStatus)
	}
	if entries[1].OrderStatus != "In progress" {
		t.Errorf("entries[1].OrderStatus = %q, want %q", entries[1].OrderStatus, "In progress")
	}

	if err := s.UpdateHistoryOrderStatus(ctx, "9999", "Completed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateHistoryOrderStatus unknown order = %v, want ErrNotFound", err)
	}
}

func TestPurgeHistoryKeepsResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendHistory(ctx, makeHistoryEntry("block-1", "1", model.OutcomeSuccess, 50)); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	rec := model.ResetRecord{ID: model.NewID(), BlockID: "block-1", ResetAt: time.Now().UTC(), OperationsLost: 1, ViewersLost: 50}
	if err := s.AppendReset(ctx, rec); err != nil {
		t.Fatalf("AppendReset: %v", err)
	}

	if err := s.PurgeHistory(ctx); err != nil {
		t.Fatalf("PurgeHistory: %v", err)
	}

	entries, err := s.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(history) = %d, want 0", len(entries))
	}

	resets, err := s.ListResets(ctx)
	if err != nil {
		t.Fatalf("ListResets: %v", err)
	}
	if len(resets) != 1 || resets[0].ViewersLost != 50 {
		t.Errorf("resets = %+v, want one record with 50 viewers lost", resets)
	}
}

func TestOperationRecordsRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		e := makeHistoryEntry("block-1", "", model.OutcomeSuccess, 10*(i+1))
		e.StartedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		rec := &OperationRecord{ID: model.NewID(), UserID: "user-1", Entry: e, CreatedAt: time.Now().UTC()}
		if err := s.InsertOperationRecord(ctx, rec); err != nil {
			t.Fatalf("InsertOperationRecord[%d]: %v", i, err)
		}
	}
	other := &OperationRecord{ID: model.NewID(), UserID: "user-2", Entry: makeHistoryEntry("block-1", "", model.OutcomeSuccess, 99), CreatedAt: time.Now().UTC()}
	if err := s.InsertOperationRecord(ctx, other); err != nil {
		t.Fatalf("InsertOperationRecord other: %v", err)
	}

	all, err := s.ListOperationRecords(ctx, OperationQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListOperationRecords: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}

	ranged, err := s.ListOperationRecords(ctx, OperationQuery{
		UserID: "user-1",
		From:   base.Add(24 * time.Hour),
		To:     base.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListOperationRecords ranged: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("len(ranged) = %d, want 2", len(ranged))
	}
	if ranged[0].Entry.RequestedCount != 20 || ranged[1].Entry.RequestedCount != 30 {
		t.Errorf("ranged counts = %d, %d, want 20, 30", ranged[0].Entry.RequestedCount, ranged[1].Entry.RequestedCount)
	}
}
