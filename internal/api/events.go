package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/servicedg/internal/engine"
)

const wsWriteTimeout = 5 * time.Second

// handleStreamEvents streams a block's change events as server-sent events.
// The current snapshot is sent first so clients start from a known state.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.orch.Handle(id)
	if err != nil {
		s.writeEngineError(w, "stream events", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing before the snapshot means no change is lost in between.
	ch, unsub := s.orch.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	snap := b.Snapshot()
	initial := engine.Event{
		Type:         engine.EventBlock,
		BlockID:      id,
		Block:        &snap,
		TotalViewers: s.orch.TotalViewers(),
		At:           time.Now().UTC(),
	}
	if err := writeSSEEvent(w, initial); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Orchestrator stopped; tell the client before closing.
				_, _ = fmt.Fprint(w, "event: done\ndata: stream complete\n\n")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes ev as a named SSE event with a single-line JSON body.
func writeSSEEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// handleWebSocket streams the events of every block over a WebSocket. The
// current snapshot of each block is sent first.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.orch.Broker().Subscribe(engine.AllBlocks)
	defer unsub()

	now := time.Now().UTC()
	total := s.orch.TotalViewers()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	for _, snap := range s.orch.Snapshots() {
		ev := engine.Event{Type: engine.EventBlock, BlockID: snap.ID, Block: &snap, TotalViewers: total, At: now}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// Reads only detect the peer closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
