package db

import (
	"database/sql"
	"fmt"
)

// FixAttempt is one remediation attempt, keyed by error fingerprint.
type FixAttempt struct {
	ID           int64
	InvocationID string
	Repo         string
	Fingerprint  string
	Phase        string
	Target       string
	Attempt      int
	Succeeded    bool
	Strategy     string
	RootCause    string
	CommitID     string
	RunID        int64
	ElapsedMs    int64
	Timestamp    string
}

// CheckRun is one execution of a local check step.
type CheckRun struct {
	ID           int64
	InvocationID string
	Repo         string
	Round        int
	CheckName    string
	Passed       bool
	ExitCode     int
	DurationMs   int
	Summary      string
	Fingerprint  string
	Timestamp    string
}

// Event is a controller phase transition or notable occurrence.
type Event struct {
	ID           int64
	InvocationID string
	Repo         string
	Event        string
	Phase        string
	Detail       string
	Timestamp    string
}

// FingerprintStat aggregates the attempts made on one fingerprint.
type FingerprintStat struct {
	Fingerprint string
	Target      string
	Attempts    int
	Successes   int
	LastSeen    string
}

// RecordFixAttempt appends a fix attempt to the error history.
func (d *DB) RecordFixAttempt(a FixAttempt) error {
	if a.Timestamp == "" {
		a.Timestamp = d.timestamp()
	}
	_, err := d.conn.Exec(d.rebind(
		`INSERT INTO fix_attempts (invocation_id, repo, fingerprint, phase, target, attempt, succeeded, strategy, root_cause, commit_id, run_id, elapsed_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.InvocationID, a.Repo, a.Fingerprint, a.Phase, a.Target, a.Attempt, a.Succeeded,
		nullString(a.Strategy), nullString(a.RootCause), nullString(a.CommitID), nullInt(a.RunID), a.ElapsedMs, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record fix attempt: %w", err)
	}
	return nil
}

const fixAttemptCols = `id, invocation_id, repo, fingerprint, phase, target, attempt, succeeded, strategy, root_cause, commit_id, run_id, elapsed_ms, timestamp`

// FixAttempts returns the most recent attempts for a fingerprint, newest first.
func (d *DB) FixAttempts(fingerprint string, limit int) ([]FixAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.rebind(
		`SELECT `+fixAttemptCols+` FROM fix_attempts WHERE fingerprint = ? ORDER BY timestamp DESC, id DESC LIMIT ?`),
		fingerprint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query fix attempts: %w", err)
	}
	return scanFixAttempts(rows)
}

// RecentFixAttempts returns the newest attempts across all fingerprints.
func (d *DB) RecentFixAttempts(limit int) ([]FixAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.rebind(
		`SELECT `+fixAttemptCols+` FROM fix_attempts ORDER BY timestamp DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent fix attempts: %w", err)
	}
	return scanFixAttempts(rows)
}

func scanFixAttempts(rows *sql.Rows) ([]FixAttempt, error) {
	defer rows.Close()
	var out []FixAttempt
	for rows.Next() {
		var a FixAttempt
		var strategy, rootCause, commitID sql.NullString
		var runID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.InvocationID, &a.Repo, &a.Fingerprint, &a.Phase, &a.Target, &a.Attempt, &a.Succeeded,
			&strategy, &rootCause, &commitID, &runID, &a.ElapsedMs, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fix attempt: %w", err)
		}
		a.Strategy = strategy.String
		a.RootCause = rootCause.String
		a.CommitID = commitID.String
		a.RunID = runID.Int64
		out = append(out, a)
	}
	return out, rows.Err()
}

// FingerprintStats summarizes the fingerprints seen most recently.
func (d *DB) FingerprintStats(limit int) ([]FingerprintStat, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.rebind(
		`SELECT fingerprint, MAX(target), COUNT(*), SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), MAX(timestamp)
		 FROM fix_attempts GROUP BY fingerprint ORDER BY MAX(timestamp) DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query fingerprint stats: %w", err)
	}
	defer rows.Close()
	var out []FingerprintStat
	for rows.Next() {
		var s FingerprintStat
		if err := rows.Scan(&s.Fingerprint, &s.Target, &s.Attempts, &s.Successes, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("scan fingerprint stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordCheckRun stores the result of one check execution.
func (d *DB) RecordCheckRun(c CheckRun) error {
	if c.Timestamp == "" {
		c.Timestamp = d.timestamp()
	}
	_, err := d.conn.Exec(d.rebind(
		`INSERT INTO check_runs (invocation_id, repo, round, check_name, passed, exit_code, duration_ms, summary, fingerprint, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.InvocationID, c.Repo, c.Round, c.CheckName, c.Passed, c.ExitCode, c.DurationMs,
		nullString(c.Summary), nullString(c.Fingerprint), c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record check run: %w", err)
	}
	return nil
}

// CheckRuns returns the check executions of one invocation in execution order.
func (d *DB) CheckRuns(invocationID string) ([]CheckRun, error) {
	rows, err := d.conn.Query(d.rebind(
		`SELECT id, invocation_id, repo, round, check_name, passed, exit_code, duration_ms, summary, fingerprint, timestamp
		 FROM check_runs WHERE invocation_id = ? ORDER BY id`), invocationID)
	if err != nil {
		return nil, fmt.Errorf("query check runs: %w", err)
	}
	defer rows.Close()
	var out []CheckRun
	for rows.Next() {
		var c CheckRun
		var exitCode, duration sql.NullInt64
		var summary, fp sql.NullString
		if err := rows.Scan(&c.ID, &c.InvocationID, &c.Repo, &c.Round, &c.CheckName, &c.Passed, &exitCode, &duration, &summary, &fp, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		c.ExitCode = int(exitCode.Int64)
		c.DurationMs = int(duration.Int64)
		c.Summary = summary.String
		c.Fingerprint = fp.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// LogEvent appends a controller event.
func (d *DB) LogEvent(e Event) error {
	if e.Timestamp == "" {
		e.Timestamp = d.timestamp()
	}
	_, err := d.conn.Exec(d.rebind(
		`INSERT INTO controller_events (invocation_id, repo, event, phase, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`),
		e.InvocationID, e.Repo, e.Event, nullString(e.Phase), nullString(e.Detail), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns the events of one invocation in order.
func (d *DB) Events(invocationID string) ([]Event, error) {
	rows, err := d.conn.Query(d.rebind(
		`SELECT id, invocation_id, repo, event, phase, detail, timestamp FROM controller_events WHERE invocation_id = ? ORDER BY id`),
		invocationID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var phase, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.InvocationID, &e.Repo, &e.Event, &phase, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = phase.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
