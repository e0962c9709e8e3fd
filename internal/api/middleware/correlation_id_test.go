package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newCorrelationRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetCorrelationID(c))
	})
	return r
}

func TestCorrelationIDPassThrough(t *testing.T) {
	r := newCorrelationRouter()

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != id {
		t.Fatalf("echoed id = %q, want %q", got, id)
	}
	if w.Body.String() != id {
		t.Fatalf("context id = %q, want %q", w.Body.String(), id)
	}
}

func TestCorrelationIDRejectsNonUUID(t *testing.T) {
	r := newCorrelationRouter()

	// 任意头内容不得原样进入日志上下文。
	for _, bad := range []string{"", "not-a-uuid", "42", "<script>"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if bad != "" {
			req.Header.Set("X-Correlation-ID", bad)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get("X-Correlation-ID")
		if bad != "" && got == bad {
			t.Fatalf("non-uuid header %q passed through", bad)
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("generated id %q is not a uuid: %v", got, err)
		}
	}
}

func TestSlogLoggerLevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	cases := []struct {
		path      string
		wantLevel string
	}{
		{"/ok", `"level":"INFO"`},
		{"/missing", `"level":"WARN"`},
		{"/broken", `"level":"ERROR"`},
	}
	for _, tc := range cases {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		line := buf.String()
		if !strings.Contains(line, tc.wantLevel) {
			t.Fatalf("%s logged %s, want %s", tc.path, line, tc.wantLevel)
		}
		if !strings.Contains(line, `"client_ip"`) || !strings.Contains(line, `"status"`) {
			t.Fatalf("%s log line missing request fields: %s", tc.path, line)
		}
	}
}
