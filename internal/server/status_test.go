package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/canlink/internal/testutil/testlog"
)

func TestHealthAndReadyRoutes(t *testing.T) {
	s := New("canlink", testlog.Start(t))

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "canlink") {
			t.Fatalf("%s: missing service name: %s", path, rec.Body.String())
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	s := New("canlink", testlog.Start(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
}
