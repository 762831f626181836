package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/report"
)

func setTargetLink(t *testing.T, srv *Server) {
	t.Helper()
	if err := srv.orch.SetTargetLink(context.Background(), "https://www.youtube.com/watch?v=live"); err != nil {
		t.Fatalf("SetTargetLink: %v", err)
	}
}

func TestListBlocks(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/blocks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body listBlocksResponse
	decode(t, resp, &body)
	if len(body.Blocks) != 3 {
		t.Fatalf("len(Blocks) = %d, want 3", len(body.Blocks))
	}
	if body.Blocks[0].ID != "block-1" || body.Blocks[0].RunState != model.StateIdle {
		t.Errorf("first block = %s/%s, want block-1/idle", body.Blocks[0].ID, body.Blocks[0].RunState)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/blocks/block-9", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEditBlockConfig(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cfg := model.DefaultBlockConfig()
	cfg.BaseCount = 250
	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/blocks/block-2/config", cfg)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body blockResponse
	decode(t, resp, &body)
	if body.Config.BaseCount != 250 || body.LastEditedConfig.BaseCount != 250 {
		t.Errorf("config = %+v, want base 250 in both configs", body.Config)
	}
}

func TestEditBlockValidationError(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cfg := model.DefaultBlockConfig()
	cfg.IntervalMinutes = 11
	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/blocks/block-1/config", cfg)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var body validationErrorResponse
	decode(t, resp, &body)
	if body.Field != "interval_minutes" {
		t.Errorf("Field = %q, want interval_minutes", body.Field)
	}
}

func TestEditBlockInvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/blocks/block-1/config", bytes.NewBufferString("{"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRenameBlock(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/blocks/block-1/title", renameRequest{Title: "Morning"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body blockResponse
	decode(t, resp, &body)
	if body.Title != "Morning" {
		t.Errorf("Title = %q, want Morning", body.Title)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/blocks/block-1/title", renameRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty title status = %d, want 422", resp.StatusCode)
	}
}

func TestBlockLifecycleActions(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	waitForIndex(t, srv, "block-1", 1)

	cfg := model.DefaultBlockConfig()
	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/blocks/block-1/config", cfg)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("edit while running status = %d, want 409", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/resume", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resume while running status = %d, want 409", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/pause", nil)
	var paused blockResponse
	decode(t, resp, &paused)
	if paused.RunState != model.StatePaused {
		t.Errorf("RunState after pause = %q, want paused", paused.RunState)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/finalize", nil)
	var done blockResponse
	decode(t, resp, &done)
	if done.RunState != model.StateCompleted {
		t.Errorf("RunState after finalize = %q, want completed", done.RunState)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/reset", nil)
	var reset blockResponse
	decode(t, resp, &reset)
	if reset.RunState != model.StateIdle || reset.CurrentOperationIndex != 0 {
		t.Errorf("after reset = %s/%d, want idle/0", reset.RunState, reset.CurrentOperationIndex)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/explode", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", resp.StatusCode)
	}
}

func TestReportAndExports(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/blocks/block-1/report", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("report before completion status = %d, want 404", resp.StatusCode)
	}

	b, _ := srv.orch.Handle("block-1")
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForIndex(t, srv, "block-1", 1)
	if err := b.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/blocks/block-1/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d, want 200", resp.StatusCode)
	}
	var rep report.Report
	decode(t, resp, &rep)
	if rep.Totals.Successful != 1 || rep.Totals.Viewers != 100 {
		t.Errorf("totals = %+v, want 1 success and 100 viewers", rep.Totals)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/blocks/block-1/report.csv", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "block-1-") || !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	r := csv.NewReader(resp.Body)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) < 2 || records[1][2] != "100" {
		t.Errorf("csv records = %v, want a summary row for 100 viewers", records[:min(len(records), 2)])
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/blocks/block-1/report.pdf", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("pdf status = %d, want 400", resp.StatusCode)
	}
}

func TestTargetLinkSettings(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/settings/target-link", targetLinkRequest{TargetLink: "not a url"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid link status = %d, want 422", resp.StatusCode)
	}

	link := "https://www.youtube.com/watch?v=abc"
	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/settings/target-link", targetLinkRequest{TargetLink: link})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set link status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/settings/target-link", nil)
	var got targetLinkResponse
	decode(t, resp, &got)
	if got.TargetLink != link {
		t.Errorf("TargetLink = %q, want %q", got.TargetLink, link)
	}
}

func TestResetAllAndTotalViewers(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, id := range []string{"block-1", "block-2"} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/"+id+"/start", nil)
		resp.Body.Close()
		waitForIndex(t, srv, id, 1)
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/total-viewers", nil)
	var total totalViewersResponse
	decode(t, resp, &total)
	if total.TotalViewers != 200 {
		t.Errorf("TotalViewers = %d, want 200", total.TotalViewers)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/reset-all", nil)
	decode(t, resp, &total)
	if total.TotalViewers != 0 {
		t.Errorf("TotalViewers after reset-all = %d, want 0", total.TotalViewers)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/history", nil)
	var hist historyResponse
	decode(t, resp, &hist)
	if hist.Total != 0 {
		t.Errorf("history after reset-all = %d entries, want 0", hist.Total)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/resets", nil)
	var resets resetsResponse
	decode(t, resp, &resets)
	if resets.Total != 2 {
		t.Errorf("resets = %d, want 2", resets.Total)
	}
}
