package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/daochan/daochan/internal/metrics"
)

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	logged := LogRequests(log, m, mux)

	req := httptest.NewRequest(http.MethodGet, "/threads/abc", nil)
	rec := httptest.NewRecorder()
	logged.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	var entry struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry.Method != http.MethodGet || entry.Path != "/threads/abc" || entry.Status != http.StatusTeapot {
		t.Errorf("log entry = %+v", entry)
	}

	expected := `
# HELP daochan_http_requests_total Server requests by route pattern and status code.
# TYPE daochan_http_requests_total counter
daochan_http_requests_total{code="418",route="GET /threads/{id}"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "daochan_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestLogRequestsUnmatched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	logged := LogRequests(zerolog.Nop(), m, http.NewServeMux())

	methods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
	}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			logged.ServeHTTP(rec, httptest.NewRequest(method, "/nowhere", nil))
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
			}
		})
	}

	expected := `
# HELP daochan_http_requests_total Server requests by route pattern and status code.
# TYPE daochan_http_requests_total counter
daochan_http_requests_total{code="404",route="unmatched"} 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "daochan_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestGetAddressFromContext(t *testing.T) {
	if got := GetAddressFromContext(context.Background()); got != "" {
		t.Errorf("empty context address = %q, want empty", got)
	}
	ctx := context.WithValue(context.Background(), ContextKeyAddress, "0xabc")
	if got := GetAddressFromContext(ctx); got != "0xabc" {
		t.Errorf("address = %q, want 0xabc", got)
	}
}
