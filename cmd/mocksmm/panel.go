package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// panel keeps placed orders in memory. Statuses advance with elapsed time:
// Pending, then In progress, then Completed.
type panel struct {
	failEvery int
	complete  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	next   int
	placed map[string]time.Time
}

func newPanel(failEvery int, complete time.Duration, now func() time.Time) *panel {
	return &panel{
		failEvery: failEvery,
		complete:  complete,
		now:       now,
		next:      23500,
		placed:    make(map[string]time.Time),
	}
}

func (p *panel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writePanel(w, http.StatusBadRequest, map[string]string{"error": "malformed form"})
		return
	}
	if r.PostForm.Get("key") == "" {
		writePanel(w, http.StatusOK, map[string]string{"error": "Invalid API key"})
		return
	}

	switch r.PostForm.Get("action") {
	case "add":
		p.add(w, r)
	case "status":
		p.status(w, r)
	default:
		writePanel(w, http.StatusOK, map[string]string{"error": "Incorrect request"})
	}
}

func (p *panel) add(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.PostForm.Get("quantity"))
	if err != nil || qty <= 0 {
		writePanel(w, http.StatusOK, map[string]string{"error": "Quantity must be positive"})
		return
	}
	if r.PostForm.Get("service") == "" || r.PostForm.Get("link") == "" {
		writePanel(w, http.StatusOK, map[string]string{"error": "Service and link are required"})
		return
	}

	p.mu.Lock()
	p.next++
	n := p.next
	fail := p.failEvery > 0 && n%p.failEvery == 0
	id := strconv.Itoa(n)
	if !fail {
		p.placed[id] = p.now()
	}
	p.mu.Unlock()

	if fail {
		writePanel(w, http.StatusOK, map[string]string{"error": "Not enough funds on balance"})
		return
	}
	writePanel(w, http.StatusOK, map[string]int{"order": n})
}

func (p *panel) status(w http.ResponseWriter, r *http.Request) {
	id := r.PostForm.Get("order")

	p.mu.Lock()
	at, ok := p.placed[id]
	p.mu.Unlock()
	if !ok {
		writePanel(w, http.StatusOK, map[string]string{"error": "Incorrect order ID"})
		return
	}

	status := "Pending"
	switch elapsed := p.now().Sub(at); {
	case elapsed >= p.complete:
		status = "Completed"
	case elapsed > 0:
		status = "In progress"
	}
	writePanel(w, http.StatusOK, map[string]string{"status": status, "charge": "0"})
}

func writePanel(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
