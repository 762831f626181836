package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/servicedg/internal/engine"
)

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/blocks/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// readSSEEvent reads one event from an SSE stream and decodes its data.
func readSSEEvent(t *testing.T, sc *bufio.Scanner) (string, engine.Event) {
	t.Helper()
	var name string
	var ev engine.Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if name != "done" {
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					t.Fatalf("decode event data: %v", err)
				}
			}
		case line == "":
			return name, ev
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return "", ev
}

func TestStreamEventsReceivesBlockChanges(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/blocks/block-1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	name, initial := readSSEEvent(t, sc)
	if name != engine.EventBlock || initial.Block == nil || initial.Block.ID != "block-1" {
		t.Fatalf("initial event = %s %+v, want block-1 snapshot", name, initial)
	}

	b, _ := srv.orch.Handle("block-1")
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for {
		_, ev := readSSEEvent(t, sc)
		if ev.Block != nil && ev.Block.CurrentOperationIndex == 1 {
			if ev.TotalViewers != 100 {
				t.Errorf("TotalViewers = %d, want 100", ev.TotalViewers)
			}
			return
		}
	}
}

func TestStreamEventsDoneOnShutdown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/blocks/block-2/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	readSSEEvent(t, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if name, _ := readSSEEvent(t, sc); name != "done" {
		t.Errorf("final event = %q, want done", name)
	}
}

func TestWebSocketStreamsAllBlocks(t *testing.T) {
	srv := newTestServer(t)
	setTargetLink(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// One snapshot per block first.
	for i := range 3 {
		var ev engine.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if ev.Type != engine.EventBlock || ev.Block == nil {
			t.Fatalf("snapshot %d = %+v, want block event", i, ev)
		}
	}

	b, _ := srv.orch.Handle("block-3")
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for {
		var ev engine.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type == engine.EventTotalViewers && ev.TotalViewers == 100 {
			return
		}
	}
}
