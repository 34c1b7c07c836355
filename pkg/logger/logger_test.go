package logger

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	if got := Redact("AC1234567890abcdef"); got != "AC1234***" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := Redact("AC1"); got != "***" {
		t.Fatalf("short ids must be fully masked, got %q", got)
	}
	if got := Redact(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	l := slog.New(slog.DiscardHandler)
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(slog.New(slog.DiscardHandler)))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == slog.Default() {
			t.Errorf("expected request logger in request context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}
