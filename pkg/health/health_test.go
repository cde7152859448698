package health

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type staticPIDs map[string]int

func (s staticPIDs) PIDs() map[string]int { return s }

func get(t *testing.T, h http.Handler, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestProcessCheck(t *testing.T) {
	require.NoError(t, ProcessCheck(staticPIDs{"pipes": os.Getpid()})())
	require.NoError(t, ProcessCheck(staticPIDs{})())
	require.Error(t, ProcessCheck(staticPIDs{"shm": 1 << 30})())
}

func TestHandler(t *testing.T) {
	h := NewHandler(staticPIDs{"pipes": os.Getpid()}, nil)
	require.Equal(t, http.StatusOK, get(t, h, "/live"))
	require.Equal(t, http.StatusOK, get(t, h, "/ready"))

	h = NewHandler(staticPIDs{"shm": 1 << 30}, nil)
	require.Equal(t, http.StatusOK, get(t, h, "/live"))
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready"))
}

func TestMetricsHandlerAndMount(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHandler(staticPIDs{}, reg)
	mux := http.NewServeMux()
	Mount(mux, h)
	require.Equal(t, http.StatusOK, get(t, mux, "/ready"))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Positive(t, n)
}
