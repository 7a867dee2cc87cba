// Package status serves a read-only JSON view of a running league over HTTP: payoff table, agent
// pool and round count.
package status

import (
	"context"
	"encoding/json"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net"
	"net/http"
	"strconv"
	"time"
)

// SummarySource provides the latest league summary. league.Coordinator implements it.
type SummarySource interface {
	Summary() *league.Summary
}

// PayoffResponse is the body of GET /payoff.
type PayoffResponse struct {
	Names    []string    `json:"names,omitempty"`
	WinRates [][]float64 `json:"win_rates"`
	Games    [][]float64 `json:"games"`
	Matches  [][]float64 `json:"matches"`
}

// PoolEntry is one element of the body of GET /pool.
type PoolEntry struct {
	league.SnapshotInfo
	Device string `json:"device"`
}

// RoundsResponse is the body of GET /rounds.
type RoundsResponse struct {
	Rounds  int `json:"rounds"`
	Workers int `json:"workers"`
	Closed  int `json:"closed"`
}

// Router returns the handler of the status endpoints. names, if given, are the participants'
// display names, indexed by id.
func Router(source SummarySource, names []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Get("/payoff", func(w http.ResponseWriter, _ *http.Request) {
		s := source.Summary()
		writeJSON(w, PayoffResponse{
			Names:    names,
			WinRates: s.WinRates(),
			Games:    entryMatrix(s.Payoff, payoff.EntryGames),
			Matches:  entryMatrix(s.Payoff, payoff.EntryMatches),
		})
	})
	r.Get("/pool", func(w http.ResponseWriter, _ *http.Request) {
		s := source.Summary()
		entries := make([]PoolEntry, 0, len(s.Pool))
		for _, info := range s.Pool {
			entries = append(entries, PoolEntry{SnapshotInfo: info, Device: info.Device.String()})
		}
		writeJSON(w, entries)
	})
	r.Get("/rounds", func(w http.ResponseWriter, _ *http.Request) {
		s := source.Summary()
		writeJSON(w, RoundsResponse{Rounds: s.Rounds, Workers: s.Workers, Closed: s.Closed})
	})
	return r
}

func entryMatrix(table [][]payoff.Cell, entry payoff.Entry) [][]float64 {
	m := make([][]float64, len(table))
	for home, row := range table {
		m[home] = make([]float64, len(row))
		for away, cell := range row {
			m[home][away] = cell[entry]
		}
	}
	return m
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		klog.Warningf("status: failed to write response: %v", err)
	}
}

// Serve the status endpoints on the given port until ctx is done.
func Serve(ctx context.Context, port int, source SummarySource, names []string) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           Router(source, names),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	klog.Infof("League status on http://localhost:%d/payoff", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serving status on port %d", port)
	}
	return nil
}
