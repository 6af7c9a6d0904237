package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	DissectFramesTotal.WithLabelValues("TCP").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "anansi_dissect_frames_total")
}

func TestServerListenError(t *testing.T) {
	s := NewServer("256.0.0.1:bad", "/m")
	assert.Error(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TraceRecordsTotal)
	TraceRecordsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TraceRecordsTotal))
}
