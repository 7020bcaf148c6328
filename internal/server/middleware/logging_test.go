package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestLoggingRecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/listings/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	check.Equal(t, http.StatusNotFound, rec.Code)
	line := buf.String()
	check.True(t, strings.Contains(line, "status=404"))
	check.True(t, strings.Contains(line, "bytes=7"))
	check.True(t, strings.Contains(line, "path=/api/listings/nope"))
}

func TestLoggingDefaultsToOKWhenHandlerOnlyWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	check.True(t, strings.Contains(buf.String(), "status=200"))
}
