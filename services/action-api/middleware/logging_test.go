package middleware_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoffman0214/BobsComponents/services/action-api/middleware"
)

func TestRequestLogger(t *testing.T) {
	tests := map[string]struct {
		status   int
		expLevel string
	}{
		"Implicit OK":  {status: 0, expLevel: "INFO"},
		"Accepted":     {status: http.StatusAccepted, expLevel: "INFO"},
		"Client error": {status: http.StatusNotFound, expLevel: "WARN"},
		"Server error": {status: http.StatusServiceUnavailable, expLevel: "ERROR"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			h := middleware.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if test.status != 0 {
					w.WriteHeader(test.status)
				}
				w.Write([]byte("hi")) //nolint:errcheck
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, test.expLevel, entry["level"])
			assert.Equal(t, "/api/v1/actions", entry["path"])
			assert.EqualValues(t, 2, entry["bytes"])
			want := test.status
			if want == 0 {
				want = http.StatusOK
			}
			assert.EqualValues(t, want, entry["status"])
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := middleware.MaxBodySize(4)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))

	var tooLarge *http.MaxBytesError
	assert.ErrorAs(t, readErr, &tooLarge)
}
