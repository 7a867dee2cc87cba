package status

import (
	"encoding/json"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fixedSource struct{ summary *league.Summary }

func (s fixedSource) Summary() *league.Summary { return s.summary }

func get(t *testing.T, handler http.Handler, path string, v any) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRouter(t *testing.T) {
	table := payoff.New(2)
	table.Record(0, 1, payoff.Win)
	table.RecordMatch(0, 1)
	summary := &league.Summary{
		Payoff: table.Table(),
		Pool: []league.SnapshotInfo{
			{Owner: 0, TeamID: 0, Steps: 100, Device: agentpool.Host},
			{Owner: 1, TeamID: 1, Steps: 50, Device: agentpool.Accelerator},
		},
		Rounds:  3,
		Workers: 2,
		Closed:  1,
	}
	handler := Router(fixedSource{summary}, []string{"red", "blue"})

	var health map[string]bool
	get(t, handler, "/healthz", &health)
	assert.True(t, health["ok"])

	var p PayoffResponse
	get(t, handler, "/payoff", &p)
	assert.Equal(t, []string{"red", "blue"}, p.Names)
	assert.Equal(t, [][]float64{{0.5, 1}, {0, 0.5}}, p.WinRates)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, p.Games)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, p.Matches)

	var pool []map[string]any
	get(t, handler, "/pool", &pool)
	require.Len(t, pool, 2)
	assert.Equal(t, "accelerator", pool[1]["device"])
	assert.Equal(t, float64(100), pool[0]["steps"])

	var rounds RoundsResponse
	get(t, handler, "/rounds", &rounds)
	assert.Equal(t, RoundsResponse{Rounds: 3, Workers: 2, Closed: 1}, rounds)

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
