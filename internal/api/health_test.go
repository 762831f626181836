package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/servicedg/internal/model"
)

func getHealth(t *testing.T, url string) (int, healthResponse) {
	t.Helper()
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := getHealth(t, ts.URL)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" || body.Store != "ok" || body.Engine != "ok" {
		t.Errorf("body = %+v, want everything ok", body)
	}
	if body.Blocks[model.StateIdle] != 3 {
		t.Errorf("idle blocks = %d, want 3", body.Blocks[model.StateIdle])
	}
}

func TestHealthzDegradedAfterShutdown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	code, body := getHealth(t, ts.URL)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Status != "degraded" || body.Engine != "stopped" {
		t.Errorf("body = %+v, want degraded with engine stopped", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/blocks/block-1/start", nil)
	resp.Body.Close()
	waitForIndex(t, srv, "block-1", 1)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	for _, want := range []string{
		"servicedg_http_requests_total",
		"servicedg_http_request_duration_seconds",
		`servicedg_blocks{state="running"} 1`,
		`servicedg_blocks{state="idle"} 2`,
		"servicedg_live_total_viewers 100",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
