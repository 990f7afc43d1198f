package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoDVBS2/internal/logging"
)

func newTestHub(limit int) *Hub {
	return NewHub(limit, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHubHistoryLimit(t *testing.T) {
	hub := newTestHub(3)
	for i := 0; i < 5; i++ {
		hub.Report(Sample{Frame: i})
	}
	history := hub.History()
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].Frame)
	assert.Equal(t, 4, history[2].Frame)
	assert.False(t, history[0].Timestamp.IsZero(), "report stamps samples")
}

func TestHubSubscribe(t *testing.T) {
	hub := newTestHub(10)
	ch, cancel := hub.Subscribe()
	hub.Report(Sample{Frame: 7, LockState: LockStateLocked})
	select {
	case s := <-ch:
		assert.Equal(t, 7, s.Frame)
		assert.Equal(t, LockStateLocked, s.LockState)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	hub.Report(Sample{Frame: 8})
}

func TestHandleSetConfig(t *testing.T) {
	hub := newTestHub(10)
	for i := 0; i < 8; i++ {
		hub.Report(Sample{Frame: i})
	}

	body := strings.NewReader(`{"historyLimit": 4}`)
	rr := httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cfg Config
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cfg))
	assert.Equal(t, 4, cfg.HistoryLimit)
	assert.Equal(t, defaultConfig().SpectrumSize, cfg.SpectrumSize)
	assert.Len(t, hub.History(), 4)

	bad := []string{`{"spectrumSize": 1000}`, `{"sampleRateHz": 10}`, `{"historyLimit": 100000}`, `not json`}
	for _, payload := range bad {
		rr = httptest.NewRecorder()
		hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(payload)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, rr.Code)
		}
	}
	assert.Equal(t, cfg, hub.ConfigSnapshot())

	rr = httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodGet, "/api/config/update", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleSpectrum(t *testing.T) {
	hub := newTestHub(10)
	bins := []float64{-60, -3, -60}
	hub.UpdateSpectrumSnapshot(bins, "rx")
	bins[1] = 0

	rr := httptest.NewRecorder()
	hub.handleSpectrum(rr, httptest.NewRequest(http.MethodGet, "/api/spectrum", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap SpectrumSnapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, "rx", snap.Source)
	assert.Equal(t, []float64{-60, -3, -60}, snap.Bins)

	rr = httptest.NewRecorder()
	hub.handleSpectrum(rr, httptest.NewRequest(http.MethodPost, "/api/spectrum", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWebServerRoutes(t *testing.T) {
	hub := newTestHub(10)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	reporter := MultiReporter{hub, metrics, nil}
	reporter.Report(Sample{Frame: 1, Mu: 0.25, Detected: true, LockState: LockStateTracking})

	ws := NewWebServer("127.0.0.1:0", hub, reg, nil)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/history")
	require.NoError(t, err)
	var history []Sample
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	require.Len(t, history, 1)
	assert.Equal(t, 0.25, history[0].Mu)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(text), "dvbs2_timing_mu 0.25")
	assert.Contains(t, string(text), `dvbs2_lock_state{state="tracking"} 1`)
}

func TestLiveStreamsHistoryAndUpdates(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Sample{Frame: 1})
	srv := httptest.NewServer(http.HandlerFunc(hub.handleLive))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() int {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(line, "data: "); ok {
				var s Sample
				require.NoError(t, json.Unmarshal([]byte(payload), &s))
				return s.Frame
			}
		}
	}
	assert.Equal(t, 1, readFrame())

	// The subscription is registered before the history is sent.
	hub.Report(Sample{Frame: 2})
	assert.Equal(t, 2, readFrame())
}

func TestMetricsReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Report(Sample{Detected: true, FineFreq: 1e-4, PilotFreq: 2e-5, Underflows: 3, LockState: LockStateLocked, Phase: 3})
	m.Report(Sample{Detected: false, LockState: LockStateSearching, Phase: 1, TEDError: -0.125})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.underflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase))
	assert.Equal(t, -0.125, testutil.ToFloat64(m.tedError))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockState.WithLabelValues("searching")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lockState.WithLabelValues("locked")))
}

func TestStdoutReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.Logfmt, &buf), 10)
	r.Report(Sample{Frame: 3, RunID: "abc", Underflows: 2, LockState: LockStateTracking})
	r.Report(Sample{Frame: 4, LockState: LockStateLocked})
	r.Report(Sample{Frame: 20, LockState: LockStateLocked, FineFreq: 1e-3, PilotPhase: math.Pi, TEDError: 0.5})

	out := buf.String()
	assert.Contains(t, out, "run_id=abc")
	assert.Contains(t, out, "underflows=2")
	assert.NotContains(t, out, "frame=4")
	assert.Contains(t, out, "frame=20")
	assert.Contains(t, out, "fine_freq=0.001")
	assert.Contains(t, out, "pilot_phase_deg=180")
	assert.Contains(t, out, "ted_error=0.5")
}
