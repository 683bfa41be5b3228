package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/peakselect/internal/monitoring"
)

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{101, "101"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusCodeColor(tt.code))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(t.Logf)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=3", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	if assert.Len(t, lines, 1) {
		assert.Contains(t, lines[0], "418")
		assert.Contains(t, lines[0], "GET")
		assert.Contains(t, lines[0], "/api/runs?limit=3")
		assert.Contains(t, lines[0], "15B")
		assert.True(t, strings.HasSuffix(lines[0], "ms"))
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("wrapped: %w", errBadRequest)))
	assert.Equal(t, http.StatusNotFound, statusFor(errNoStore))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("disk on fire")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 1})))
}
