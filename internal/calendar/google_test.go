package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// newTestGoogle points a Google client at an httptest server.
func newTestGoogle(t *testing.T, handler http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(context.Background(), srv.Client(), rate.NewLimiter(rate.Inf, 1), option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return g
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": http.StatusText(code)},
	})
}

// TestGoogle_ListEventsPaginates verifies every page is fetched and filters are sent.
func TestGoogle_ListEventsPaginates(t *testing.T) {
	var mu sync.Mutex
	var queries []string

	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/calendars/cal1/events") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()

		q := r.URL.Query()
		if q.Get("showDeleted") != "true" {
			t.Errorf("Expected showDeleted=true, got %q", q.Get("showDeleted"))
		}
		if got := q["privateExtendedProperty"]; len(got) != 2 || got[0] != "externalCalendarId=feed" || got[1] != "externalEventId=uid1" {
			t.Errorf("Unexpected private filters: %v", got)
		}
		if q.Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"items":         []map[string]any{{"id": "e1"}},
				"nextPageToken": "page2",
			})
			return
		}
		writeJSON(w, map[string]any{"items": []map[string]any{{"id": "e2"}}})
	})

	events, err := g.ListEventsByExternalID(context.Background(), "cal1", "feed", "uid1")
	if err != nil {
		t.Fatalf("ListEventsByExternalID failed: %v", err)
	}
	if len(events) != 2 || events[0].Id != "e1" || events[1].Id != "e2" {
		t.Errorf("Expected events e1,e2 across pages, got %d events", len(events))
	}
	if len(queries) != 2 {
		t.Errorf("Expected 2 requests, got %d", len(queries))
	}
}

// TestGoogle_DeleteGoneIsSuccess verifies that deleting an already removed event succeeds.
func TestGoogle_DeleteGoneIsSuccess(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if r.URL.Query().Get("sendUpdates") != "none" {
			t.Errorf("Expected sendUpdates=none")
		}
		writeAPIError(w, http.StatusGone)
	})

	if err := g.DeleteEvent(context.Background(), "cal1", "e1"); err != nil {
		t.Errorf("Expected nil error for gone event, got %v", err)
	}
}

// TestGoogle_DeleteFailure verifies that other API errors are returned.
func TestGoogle_DeleteFailure(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusForbidden)
	})

	if err := g.DeleteEvent(context.Background(), "cal1", "e1"); err == nil {
		t.Error("Expected error for forbidden delete")
	}
}

// TestGoogle_GetEventNotFound verifies 404 maps to ErrNotFound.
func TestGoogle_GetEventNotFound(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound)
	})

	_, err := g.GetEvent(context.Background(), "cal1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestGoogle_PatchEventStatus verifies only the status is sent.
func TestGoogle_PatchEventStatus(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		if len(body) != 1 || body["status"] != "cancelled" {
			t.Errorf("Expected only status in body, got %v", body)
		}
		writeJSON(w, map[string]any{"id": "inst1", "status": "cancelled"})
	})

	ev, err := g.PatchEventStatus(context.Background(), "cal1", "inst1", StatusCancelled)
	if err != nil {
		t.Fatalf("PatchEventStatus failed: %v", err)
	}
	if ev.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", ev.Status)
	}
}

// TestFindOrCreateCalendar covers both the existing and the created path.
func TestFindOrCreateCalendar(t *testing.T) {
	created := 0
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/users/me/calendarList"):
			writeJSON(w, map[string]any{"items": []map[string]any{{"id": "c1", "summary": "Work"}}})
		case strings.HasSuffix(r.URL.Path, "/calendars") && r.Method == http.MethodPost:
			created++
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["timeZone"] != "Europe/Berlin" {
				t.Errorf("Expected time zone Europe/Berlin, got %v", body["timeZone"])
			}
			writeJSON(w, map[string]any{"id": "c2", "summary": body["summary"]})
		default:
			http.NotFound(w, r)
		}
	})

	id, isNew, err := FindOrCreateCalendar(context.Background(), g, "Work", "Europe/Berlin")
	if err != nil || id != "c1" || isNew {
		t.Errorf("Expected existing c1, got %q new=%v err=%v", id, isNew, err)
	}
	id, isNew, err = FindOrCreateCalendar(context.Background(), g, "Feed", "Europe/Berlin")
	if err != nil || id != "c2" || !isNew {
		t.Errorf("Expected created c2, got %q new=%v err=%v", id, isNew, err)
	}
	if created != 1 {
		t.Errorf("Expected 1 create call, got %d", created)
	}
}
