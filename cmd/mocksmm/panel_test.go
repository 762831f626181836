package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func post(t *testing.T, p *panel, form url.Values) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v2", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	var out map[string]any
	dec := json.NewDecoder(rec.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func addForm(qty string) url.Values {
	return url.Values{
		"key":      {"k"},
		"action":   {"add"},
		"service":  {"101"},
		"link":     {"https://www.youtube.com/watch?v=live"},
		"quantity": {qty},
	}
}

func TestPanelOrderLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := newPanel(0, time.Minute, func() time.Time { return now })

	out := post(t, p, addForm("100"))
	order, ok := out["order"].(json.Number)
	if !ok {
		t.Fatalf("add reply = %v, want an order id", out)
	}
	id := order.String()

	status := url.Values{"key": {"k"}, "action": {"status"}, "order": {id}}
	if got := post(t, p, status)["status"]; got != "Pending" {
		t.Errorf("status at placement = %v, want Pending", got)
	}
	now = now.Add(30 * time.Second)
	if got := post(t, p, status)["status"]; got != "In progress" {
		t.Errorf("status mid-way = %v, want In progress", got)
	}
	now = now.Add(time.Minute)
	if got := post(t, p, status)["status"]; got != "Completed" {
		t.Errorf("status after completion = %v, want Completed", got)
	}
}

func TestPanelRejections(t *testing.T) {
	p := newPanel(2, time.Minute, time.Now)

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing key", url.Values{"action": {"add"}}, "Invalid API key"},
		{"unknown action", url.Values{"key": {"k"}, "action": {"refill"}}, "Incorrect request"},
		{"bad quantity", addForm("zero"), "Quantity must be positive"},
		{"unknown order", url.Values{"key": {"k"}, "action": {"status"}, "order": {"1"}}, "Incorrect order ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := post(t, p, tt.form)["error"]; got != tt.want {
				t.Errorf("error = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestPanelFailEvery(t *testing.T) {
	p := newPanel(2, time.Minute, time.Now)

	var failed int
	for range 4 {
		if _, ok := post(t, p, addForm("10"))["error"]; ok {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed = %d of 4, want every second order rejected", failed)
	}
}
