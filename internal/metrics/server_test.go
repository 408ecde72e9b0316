package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "netcap_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	s := NewServer("127.0.0.1:0", "", reg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "netcap_test_total 3")
}

func TestServerListenError(t *testing.T) {
	s := NewServer("256.0.0.1:bad", "/m", nil)
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestVectorsRegistered(t *testing.T) {
	FilterPushesTotal.WithLabelValues(ResultOK).Inc()
	AdaptationLevel.Set(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["netcap_filter_pushes_total"])
	assert.True(t, names["netcap_adaptation_level"])
}
