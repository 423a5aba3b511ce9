package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPing(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":0", fakePinger{}, fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSelftestHealthy(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":0", fakePinger{}, fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/selftest", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSelftestUnhealthyDependency(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":0", fakePinger{err: errors.New("assistant unreachable")}, fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/selftest", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "assistant unreachable") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
