package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/observability"
)

func decodeHealth(t *testing.T, body io.Reader) map[string]string {
	t.Helper()

	var out map[string]string
	require.NoError(t, json.NewDecoder(body).Decode(&out))

	return out
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"status": "ok"}, decodeHealth(t, rec.Body))
}

func TestReadyHandler(t *testing.T) {
	t.Parallel()

	ready := func(context.Context) error { return nil }
	draining := func(context.Context) error { return errors.New("batch draining") }

	tests := []struct {
		name   string
		checks []observability.ReadyCheck
		code   int
		want   map[string]string
	}{
		{"no_checks", nil, http.StatusOK, map[string]string{"status": "ok"}},
		{"all_ready", []observability.ReadyCheck{ready, ready}, http.StatusOK, map[string]string{"status": "ok"}},
		{
			"first_failure_reported",
			[]observability.ReadyCheck{ready, draining},
			http.StatusServiceUnavailable,
			map[string]string{"status": "unavailable", "reason": "batch draining"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			observability.ReadyHandler(tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.want, decodeHealth(t, rec.Body))
		})
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestDiagnosticsServer(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(rw, "photo_analyzer_items_total 3\n")
	})

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", metrics)
	require.NoError(t, err)

	base := "http://" + srv.Addr()

	code, _ := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "photo_analyzer_items_total")

	require.NoError(t, srv.Close(context.Background()))
}

func TestDiagnosticsServer_NoMetricsHandler(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", nil)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close(context.Background())) })

	code, _ := get(t, "http://"+srv.Addr()+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDiagnosticsServer_ListenError(t *testing.T) {
	t.Parallel()

	_, err := observability.NewDiagnosticsServer("not-an-address", nil)
	require.Error(t, err)
}
