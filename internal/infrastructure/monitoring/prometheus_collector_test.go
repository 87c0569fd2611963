package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liveclass/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_ParticipantGauges(t *testing.T) {
	p := NewPrometheusCollector()

	p.StreamStarted("s-1")
	p.ParticipantJoined("s-1")
	p.ParticipantJoined("s-1")
	p.ParticipantLeft("s-1", "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.streamsLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.participantsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.joinsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.leavesTotal.WithLabelValues("timeout")))
}

func TestPrometheusCollector_RecordingLifecycle(t *testing.T) {
	p := NewPrometheusCollector()

	p.RecordingStarted("s-1")
	p.RecordingFailed("s-1")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.recordingsActive))

	p.RecordingFinalized("s-1", 2048, 90*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.recordingsActive))
	assert.Equal(t, 2048.0, testutil.ToFloat64(p.recordingBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.recordingsFailed))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	p := NewPrometheusCollector()
	p.SignalRouted(domain.MessageOffer, true)
	p.SignalRouted(domain.MessageOffer, false)
	p.QualityAdjusted("s-1", domain.Quality360p)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `liveclass_signals_routed_total{outcome="dropped",type="offer"} 1`)
	assert.Contains(t, body, `liveclass_quality_adjustments_total{quality="360p"} 1`)
}
