package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/rewired-gh/strikewatch/internal/performance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededTracker() *performance.Tracker {
	tr := performance.NewTracker(10)
	now := time.Now()
	tr.Record(models.Outcome{ID: "o1", Instrument: "NIFTY", Win: true, PnL: decimal.NewFromInt(1000), ResolvedAt: now})
	tr.Record(models.Outcome{ID: "o2", Instrument: "NIFTY", Win: false, PnL: decimal.NewFromInt(-400), ResolvedAt: now})
	tr.Record(models.Outcome{ID: "o3", Instrument: "SENSEX", Win: true, PnL: decimal.NewFromInt(300), ResolvedAt: now})
	return tr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(":0", seededTracker(), nil, func() string { return "3 instruments" }, nil)
	rec := get(t, s.Router(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","detail":"3 instruments"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	s := New(":0", seededTracker(), nil, nil, nil)
	rec := get(t, s.Router(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total.Total)
	assert.Len(t, body.ByInstrument, 2)
	assert.True(t, body.Total.TotalPnL.Equal(decimal.NewFromInt(900)))
}

func TestInstrumentStats(t *testing.T) {
	s := New(":0", seededTracker(), nil, nil, nil)

	rec := get(t, s.Router(), "/stats/nifty")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Total)
	assert.InDelta(t, 50.0, st.WinRate, 1e-9)

	rec = get(t, s.Router(), "/stats/BANKNIFTY")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOutcomes_FromTracker(t *testing.T) {
	s := New(":0", seededTracker(), nil, nil, nil)

	rec := get(t, s.Router(), "/outcomes?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var outs []models.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outs))
	require.Len(t, outs, 2)
	assert.Equal(t, "o3", outs[0].ID, "newest first")

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = get(t, s.Router(), "/outcomes?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

type stubStore struct {
	limit int
	err   error
}

func (s *stubStore) RecentOutcomes(k int) ([]models.Outcome, error) {
	s.limit = k
	if s.err != nil {
		return nil, s.err
	}
	return []models.Outcome{{ID: "stored", PnL: decimal.Zero}}, nil
}

func TestOutcomes_FromStore(t *testing.T) {
	store := &stubStore{}
	s := New(":0", seededTracker(), store, nil, nil)

	rec := get(t, s.Router(), "/outcomes?limit=10000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, store.limit)
	assert.Contains(t, rec.Body.String(), `"stored"`)

	store.err = errors.New("disk I/O error")
	rec = get(t, s.Router(), "/outcomes")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, defaultLimit, store.limit)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("strikewatch_cycles_total 1\n"))
	})
	s := New(":0", seededTracker(), nil, nil, metrics)
	rec := get(t, s.Router(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "strikewatch_cycles_total")

	bare := New(":0", seededTracker(), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, bare.Router(), "/metrics").Code)
}
