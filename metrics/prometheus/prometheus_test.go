package prometheus

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/squareup/ksession/metrics"
	"github.com/stretchr/testify/require"
)

func TestExporterServesRegisteredCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ksession_test_total", Help: "test counter"})
	registry.MustRegister(counter)
	counter.Add(3)

	exporter := NewExporterForGatherer(metrics.Config{Enabled: true, Address: "localhost:0"}, registry)
	require.NoError(t, exporter.Start())
	require.Error(t, exporter.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", exporter.Addr())) //nolint:gosec
	require.NoError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ksession_test_total 3")

	require.NoError(t, exporter.Stop())
	require.Equal(t, "", exporter.Addr())
	require.Error(t, exporter.Stop())
}

func TestExporterListenFailure(t *testing.T) {
	exporter := NewExporterForGatherer(metrics.Config{Address: "not an address"}, prometheus.NewRegistry())
	require.Error(t, exporter.Start())
	require.Equal(t, "", exporter.Addr())
}
