package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "") })
	r.GET("/error", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "fail"}) })

	t.Run("logs regular requests", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/status", nil)
		r.ServeHTTP(w, req)

		if !strings.Contains(buf.String(), `"path":"/status"`) {
			t.Fatalf("expected request log, got %q", buf.String())
		}
	})

	t.Run("scrape paths are debug only", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/metrics", nil)
		r.ServeHTTP(w, req)

		if buf.Len() != 0 {
			t.Fatalf("expected no info log for /metrics, got %q", buf.String())
		}
	})

	t.Run("server errors log at error level", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/error", nil)
		r.ServeHTTP(w, req)

		if !strings.Contains(buf.String(), `"level":"error"`) {
			t.Fatalf("expected error level log, got %q", buf.String())
		}
	})
}

func TestNewRateLimiter(t *testing.T) {
	t.Run("invalid period", func(t *testing.T) {
		if _, err := NewRateLimiter(10, "invalid"); err == nil {
			t.Fatal("expected error for invalid period")
		}
	})

	t.Run("non-positive limit", func(t *testing.T) {
		if _, err := NewRateLimiter(0, "1m"); err == nil {
			t.Fatal("expected error for zero requests")
		}
	})

	t.Run("requests exceeding limit rejected", func(t *testing.T) {
		mw, err := NewRateLimiter(2, "1m")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		r := gin.New()
		r.Use(mw)
		r.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/status", nil)
			req.RemoteAddr = "127.0.0.1:12345"
			r.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}

		if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
			t.Fatalf("expected first two requests to succeed, got %v", codes)
		}
		if codes[2] != http.StatusTooManyRequests {
			t.Fatalf("expected 429 on third request, got %d", codes[2])
		}
	})
}
