package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

func TestRequestLoggerRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	handler := chimw.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("taken"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/appointments", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if line["status"] != float64(http.StatusConflict) {
		t.Fatalf("expected status 409, got %v", line["status"])
	}
	if line["request_id"] != "req-123" {
		t.Fatalf("expected request id, got %v", line["request_id"])
	}
	if line["bytes"] != float64(5) {
		t.Fatalf("expected 5 bytes, got %v", line["bytes"])
	}
}
