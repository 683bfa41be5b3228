package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/peakselect/internal/monitoring"
	"github.com/banshee-data/peakselect/internal/peaks"
)

// ErrNotFound is returned when a sample set or run does not exist.
var ErrNotFound = errors.New("not found")

// SampleSet describes a stored input table.
type SampleSet struct {
	ID          string    `json:"sample_set_id"`
	Source      string    `json:"source"`
	AccelColumn string    `json:"accel_column"`
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Run is one stored selection with the parameters that produced it.
type Run struct {
	ID             string           `json:"run_id"`
	SampleSetID    string           `json:"sample_set_id,omitempty"`
	Source         string           `json:"source"`
	TargetCount    int              `json:"target_count"`
	MinGap         float64          `json:"min_gap"`
	Baseline       float64          `json:"baseline"`
	LegacyRankSkip bool             `json:"legacy_rank_skip"`
	SelectedCount  int              `json:"selected_count"`
	Summary        *peaks.Summary   `json:"summary,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Selection      []peaks.Selected `json:"selection,omitempty"`
}

// RunParams are the inputs of a selection run.
type RunParams struct {
	SampleSetID string // optional
	Source      string
	TargetCount int
	MinGap      float64
	Config      peaks.Config
}

// SaveSampleSet stores records under a new sample set id.
func (db *DB) SaveSampleSet(source, accelColumn string, records []peaks.Record) (*SampleSet, error) {
	set := &SampleSet{
		ID:          uuid.NewString(),
		Source:      source,
		AccelColumn: accelColumn,
		SampleCount: len(records),
		CreatedAt:   db.clock.Now().UTC(),
	}
	if set.AccelColumn == "" {
		set.AccelColumn = "z"
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sample_sets (sample_set_id, source, accel_column, sample_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		set.ID, set.Source, set.AccelColumn, set.SampleCount, set.CreatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert sample set: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO samples (sample_set_id, row_index, time, x, y, speed, accel) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.Exec(set.ID, i, r.Time, r.X, r.Y, r.Speed, r.Accel); err != nil {
			return nil, fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	monitoring.Logf("db: stored sample set %s (%d rows) from %s", set.ID, set.SampleCount, set.Source)
	return set, nil
}

// SampleSet returns the metadata of a stored sample set.
func (db *DB) SampleSet(id string) (*SampleSet, error) {
	var (
		set     SampleSet
		created int64
	)
	err := db.QueryRow(
		`SELECT sample_set_id, source, accel_column, sample_count, created_at FROM sample_sets WHERE sample_set_id = ?`, id,
	).Scan(&set.ID, &set.Source, &set.AccelColumn, &set.SampleCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sample set %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	set.CreatedAt = time.Unix(0, created).UTC()
	return &set, nil
}

// SampleSetRecords returns the stored rows of a sample set in input order.
func (db *DB) SampleSetRecords(id string) ([]peaks.Record, error) {
	if _, err := db.SampleSet(id); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT time, x, y, speed, accel FROM samples WHERE sample_set_id = ? ORDER BY row_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []peaks.Record
	for rows.Next() {
		var r peaks.Record
		if err := rows.Scan(&r.Time, &r.X, &r.Y, &r.Speed, &r.Accel); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordRun stores a selection and its parameters. summary may be nil.
func (db *DB) RecordRun(p RunParams, selection []peaks.Selected, summary *peaks.Summary) (*Run, error) {
	run := &Run{
		ID:             uuid.NewString(),
		SampleSetID:    p.SampleSetID,
		Source:         p.Source,
		TargetCount:    p.TargetCount,
		MinGap:         p.MinGap,
		Baseline:       p.Config.Baseline,
		LegacyRankSkip: p.Config.LegacyRankSkip,
		SelectedCount:  len(selection),
		Summary:        summary,
		CreatedAt:      db.clock.Now().UTC(),
		Selection:      selection,
	}

	var summaryJSON sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO selection_runs (
			run_id, sample_set_id, source, target_count, min_gap, baseline,
			legacy_rank_skip, selected_count, summary_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullString(run.SampleSetID), run.Source, run.TargetCount, run.MinGap, run.Baseline,
		run.LegacyRankSkip, run.SelectedCount, summaryJSON, run.CreatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO selections (run_id, rank, time, y, x, speed, magnitude) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for i, s := range selection {
		if _, err := stmt.Exec(run.ID, i, s.Time, s.Y, s.X, s.Speed, s.Magnitude); err != nil {
			return nil, fmt.Errorf("insert selection %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	monitoring.Logf("db: recorded run %s: %d of %d requested, gap %g", run.ID, run.SelectedCount, run.TargetCount, run.MinGap)
	return run, nil
}

const runColumns = `run_id, sample_set_id, source, target_count, min_gap, baseline,
	legacy_rank_skip, selected_count, summary_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run         Run
		setID       sql.NullString
		summaryJSON sql.NullString
		created     int64
	)
	if err := s.Scan(&run.ID, &setID, &run.Source, &run.TargetCount, &run.MinGap, &run.Baseline,
		&run.LegacyRankSkip, &run.SelectedCount, &summaryJSON, &created); err != nil {
		return nil, err
	}
	run.SampleSetID = setID.String
	run.CreatedAt = time.Unix(0, created).UTC()
	if summaryJSON.Valid {
		var sum peaks.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &sum); err != nil {
			return nil, fmt.Errorf("decode summary of run %s: %w", run.ID, err)
		}
		run.Summary = &sum
	}
	return &run, nil
}

// Runs lists stored runs, newest first, without their selections.
// A limit of zero or less returns every run.
func (db *DB) Runs(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM selection_runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Run returns one stored run with its selection in rank order.
func (db *DB) Run(id string) (*Run, error) {
	run, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM selection_runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT time, y, x, speed, magnitude FROM selections WHERE run_id = ? ORDER BY rank`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	run.Selection = []peaks.Selected{}
	for rows.Next() {
		var s peaks.Selected
		if err := rows.Scan(&s.Time, &s.Y, &s.X, &s.Speed, &s.Magnitude); err != nil {
			return nil, err
		}
		run.Selection = append(run.Selection, s)
	}
	return run, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
