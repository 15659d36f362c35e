package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/wolfman30/salon-booking-engine/internal/retry"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

type fakeGoogle struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]map[string]any
	handler  func(w http.ResponseWriter, r *http.Request) bool
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			var body map[string]any
			_ = json.Unmarshal(data, &body)
			f.bodies[key] = body
		}
	}
	f.mu.Unlock()

	if f.handler != nil && f.handler(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{}`))
}

func newTestGoogle(t *testing.T, handler func(w http.ResponseWriter, r *http.Request) bool) (*Google, *fakeGoogle) {
	t.Helper()
	fake := &fakeGoogle{bodies: map[string]map[string]any{}, handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(context.Background(), "business", "Europe/Madrid", logging.Discard(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return g, fake
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"fail"}}`, code)
}

func TestGoogleCreateHoldUsesAppointmentEventID(t *testing.T) {
	g, fake := newTestGoogle(t, nil)
	id := uuid.New()
	start := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

	ref, err := g.CreateHold(context.Background(), Hold{
		AppointmentID: id, CalendarID: "marta", Start: start, End: start.Add(100 * time.Minute), Label: "Full Colour",
	})
	require.NoError(t, err)
	assert.Equal(t, "marta#"+EventIDFor(id), ref)

	var body map[string]any
	for key, b := range fake.bodies {
		if strings.HasPrefix(key, "POST ") && strings.Contains(key, "/calendars/marta/events") {
			body = b
		}
	}
	require.NotNil(t, body)
	assert.Equal(t, EventIDFor(id), body["id"])
	assert.Equal(t, "tentative", body["status"])
	assert.Equal(t, "[PROVISIONAL] Full Colour", body["summary"])
}

func TestGoogleCreateHoldConflictReturnsExistingRef(t *testing.T) {
	g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost {
			writeError(w, http.StatusConflict)
			return true
		}
		return false
	})
	id := uuid.New()
	ref, err := g.CreateHold(context.Background(), Hold{AppointmentID: id, CalendarID: "marta", Start: time.Now(), End: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, FormatRef("marta", EventIDFor(id)), ref)
}

func TestGoogleCreateHoldServerErrorIsTransient(t *testing.T) {
	g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		writeError(w, http.StatusServiceUnavailable)
		return true
	})
	_, err := g.CreateHold(context.Background(), Hold{AppointmentID: uuid.New(), CalendarID: "marta", Start: time.Now(), End: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestGoogleCreateHoldClientErrorIsPermanent(t *testing.T) {
	g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		writeError(w, http.StatusForbidden)
		return true
	})
	_, err := g.CreateHold(context.Background(), Hold{AppointmentID: uuid.New(), CalendarID: "marta", Start: time.Now(), End: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestGoogleDeleteIsIdempotent(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
			if r.Method == http.MethodDelete {
				writeError(w, code)
				return true
			}
			return false
		})
		require.NoError(t, g.Delete(context.Background(), "marta#abc123"))
	}
}

func TestGoogleDeleteRejectsBadRef(t *testing.T) {
	g, _ := newTestGoogle(t, nil)
	assert.ErrorIs(t, g.Delete(context.Background(), "no-separator"), ErrInvalidRef)
}

func TestGoogleMarkConfirmedPatchesEvent(t *testing.T) {
	g, fake := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"abc123","summary":"[PROVISIONAL] Full Colour","status":"tentative"}`))
			return true
		}
		return false
	})
	require.NoError(t, g.MarkConfirmed(context.Background(), "marta#abc123"))

	var patch map[string]any
	for key, b := range fake.bodies {
		if strings.HasPrefix(key, "PATCH ") {
			patch = b
		}
	}
	require.NotNil(t, patch)
	assert.Equal(t, "confirmed", patch["status"])
	assert.Equal(t, "Full Colour", patch["summary"])
}

func TestGoogleBusy(t *testing.T) {
	g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		if strings.HasSuffix(r.URL.Path, "/freeBusy") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"calendars":{"marta":{"busy":[
				{"start":"2026-03-06T10:00:00Z","end":"2026-03-06T11:00:00Z"},
				{"start":"2026-03-06T15:30:00Z","end":"2026-03-06T16:00:00Z"}]}}}`))
			return true
		}
		return false
	})
	day := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	busy, err := g.Busy(context.Background(), "marta", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC), busy[0].Start.UTC())
	assert.Equal(t, time.Date(2026, 3, 6, 16, 0, 0, 0, time.UTC), busy[1].End.UTC())
}

func TestGoogleIsClosed(t *testing.T) {
	g, _ := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/calendars/business/events") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[
				{"summary":"Closed for training","start":{"dateTime":"2026-03-06T09:00:00Z"}},
				{"summary":"CLOSED - Holiday","start":{"date":"2026-03-06"}}]}`))
			return true
		}
		return false
	})
	day := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	closed, err := g.IsClosed(context.Background(), day, day.Add(24*time.Hour), "CLOSED")
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestParseRef(t *testing.T) {
	cal, ev, err := ParseRef(FormatRef("es.spain#holiday@group.v.calendar.google.com", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "es.spain#holiday@group.v.calendar.google.com", cal)
	assert.Equal(t, "abc", ev)

	_, _, err = ParseRef("cal#")
	assert.ErrorIs(t, err, ErrInvalidRef)
}
