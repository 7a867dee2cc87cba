// Package ledger records the history of a league run in a SQLite database: game outcomes,
// published snapshots (metadata only) and completed rounds.
//
// Each Open starts a new run, identified by a random UUID, so several runs can share one file.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"github.com/google/uuid"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Ledger of one league run. It implements league.Recorder, and it's safe for concurrent use.
type Ledger struct {
	db    *sql.DB
	runID string

	// ctx used by the league.Recorder methods, which don't take one. It is not cancelled with the
	// context given to Open, so the last records of an interrupted run are still written.
	ctx context.Context
}

// Open the database at path (MemoryPath for an in-memory one), apply the schema, and register a
// new run with the given description of its configuration.
func Open(ctx context.Context, path, config string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening ledger %q", path)
	}
	if path == MemoryPath {
		// Each connection to ":memory:" is a different database.
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "opening ledger %q", path)
	}
	if err = migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &Ledger{db: db, runID: uuid.NewString(), ctx: context.WithoutCancel(ctx)}
	if _, err = db.ExecContext(ctx, `INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)`,
		l.runID, time.Now().UTC(), config); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "registering ledger run")
	}
	klog.Infof("Ledger %q: run %s", path, l.runID)
	return l, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return errors.Wrap(err, "reading ledger schema")
	}
	if _, err = db.ExecContext(ctx, string(sqlBytes)); err != nil {
		return errors.Wrap(err, "applying ledger schema")
	}
	return nil
}

// RunID returns the UUID of the run being recorded.
func (l *Ledger) RunID() string { return l.runID }

// Close the database.
func (l *Ledger) Close() error { return l.db.Close() }

// RecordOutcome implements league.Recorder.
func (l *Ledger) RecordOutcome(home, away int, outcome payoff.Outcome) error {
	_, err := l.db.ExecContext(l.ctx, `
		INSERT INTO outcomes (run_id, home, away, outcome, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.runID, home, away, outcome.String(), time.Now().UTC())
	return errors.Wrapf(err, "recording outcome %d vs %d", home, away)
}

// RecordSnapshot implements league.Recorder. Only the metadata of the snapshot is stored.
func (l *Ledger) RecordSnapshot(snapshot *agentpool.Snapshot) error {
	_, err := l.db.ExecContext(l.ctx, `
		INSERT INTO snapshots (run_id, owner, team_id, steps, device, num_params, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.runID, snapshot.Owner, snapshot.TeamID, snapshot.Steps, snapshot.Device.String(),
		len(snapshot.Params), time.Now().UTC())
	return errors.Wrapf(err, "recording snapshot of %d", snapshot.Owner)
}

// RecordRound implements league.Recorder.
func (l *Ledger) RecordRound(round int) error {
	_, err := l.db.ExecContext(l.ctx, `
		INSERT INTO rounds (run_id, round, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id, round) DO NOTHING
	`, l.runID, round, time.Now().UTC())
	return errors.Wrapf(err, "recording round %d", round)
}

// Outcome is one recorded game.
type Outcome struct {
	Home, Away int
	Outcome    payoff.Outcome
}

// Outcomes returns the outcomes of the current run, in the order they were recorded.
func (l *Ledger) Outcomes(ctx context.Context) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT home, away, outcome FROM outcomes WHERE run_id = ? ORDER BY id
	`, l.runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying outcomes")
	}
	defer func() { _ = rows.Close() }()
	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var name string
		if err = rows.Scan(&o.Home, &o.Away, &name); err != nil {
			return nil, errors.Wrap(err, "reading outcome")
		}
		if o.Outcome, err = parseOutcome(name); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, errors.Wrap(rows.Err(), "reading outcomes")
}

// CountOutcomes returns the number of wins, losses and draws of home against away in the current
// run, without decay.
func (l *Ledger) CountOutcomes(ctx context.Context, home, away int) (counts map[payoff.Outcome]int, err error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM outcomes
		 WHERE run_id = ? AND home = ? AND away = ?
		 GROUP BY outcome
	`, l.runID, home, away)
	if err != nil {
		return nil, errors.Wrap(err, "counting outcomes")
	}
	defer func() { _ = rows.Close() }()
	counts = make(map[payoff.Outcome]int)
	for rows.Next() {
		var name string
		var count int
		if err = rows.Scan(&name, &count); err != nil {
			return nil, errors.Wrap(err, "reading outcome counts")
		}
		outcome, err := parseOutcome(name)
		if err != nil {
			return nil, err
		}
		counts[outcome] = count
	}
	return counts, errors.Wrap(rows.Err(), "reading outcome counts")
}

// Rounds returns the number of rounds recorded in the current run.
func (l *Ledger) Rounds(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rounds WHERE run_id = ?`, l.runID).Scan(&count)
	return count, errors.Wrap(err, "counting rounds")
}

// LatestSteps returns the steps of the last snapshot recorded for each owner.
func (l *Ledger) LatestSteps(ctx context.Context) (map[int]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT owner, MAX(steps) FROM snapshots WHERE run_id = ? GROUP BY owner
	`, l.runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying snapshots")
	}
	defer func() { _ = rows.Close() }()
	steps := make(map[int]int64)
	for rows.Next() {
		var owner int
		var s int64
		if err = rows.Scan(&owner, &s); err != nil {
			return nil, errors.Wrap(err, "reading snapshot steps")
		}
		steps[owner] = s
	}
	return steps, errors.Wrap(rows.Err(), "reading snapshot steps")
}

func parseOutcome(name string) (payoff.Outcome, error) {
	for _, o := range []payoff.Outcome{payoff.Win, payoff.Loss, payoff.Draw} {
		if o.String() == name {
			return o, nil
		}
	}
	return 0, errors.Errorf("invalid outcome %q in ledger", name)
}
