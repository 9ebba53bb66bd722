package lifecycle

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartedHandlerActive(t *testing.T) {
	testHandler(t, true, "/started")
}

func TestStartedHandlerInactive(t *testing.T) {
	testHandler(t, false, "/started")
}

func TestLivenessHandlerActive(t *testing.T) {
	testHandler(t, true, "/liveness")
}

func TestLivenessHandlerInactive(t *testing.T) {
	testHandler(t, false, "/liveness")
}

func TestReadinessHandlerActive(t *testing.T) {
	testHandler(t, true, "/readiness")
}

func TestReadinessHandlerInactive(t *testing.T) {
	testHandler(t, false, "/readiness")
}

func TestDisabledEndpointsDoNothing(t *testing.T) {
	hndlr := NewLifecycleEndpoints(Config{ListenAddress: "localhost:0"})
	require.NoError(t, hndlr.Start())
	require.Equal(t, "", hndlr.Addr())
	require.NoError(t, hndlr.Stop())
}

func testHandler(t *testing.T, active bool, path string) {
	t.Helper()
	cnf := Config{
		Enabled:       true,
		ListenAddress: "localhost:0",
		StartupPath:   "/started",
		LivePath:      "/liveness",
		ReadyPath:     "/readiness",
	}

	hndlr := NewLifecycleEndpoints(cnf)
	err := hndlr.Start()
	hndlr.SetActive(active)
	require.NoError(t, err)

	uri := fmt.Sprintf("http://%s%s", hndlr.Addr(), path)
	resp, err := http.Get(uri) //nolint:gosec
	require.NoError(t, err)
	if active {
		require.Equal(t, http.StatusOK, resp.StatusCode)
	} else {
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
	err = resp.Body.Close()
	require.NoError(t, err)

	err = hndlr.Stop()
	require.NoError(t, err)
}
