// Package journal keeps a SQLite history of invocations and the failure
// notifications they produced.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/warmbridge/internal/notify"
	"github.com/mattjoyce/warmbridge/internal/protocol"
)

// maxOutputBytes caps stored worker output per invocation.
const maxOutputBytes = 64 * 1024

const defaultLimit = 50

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("invocation not found")

// Store reads and writes the journal tables.
type Store struct {
	db *sql.DB
}

// New wraps an opened database. See storage.OpenSQLite.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EventDigest returns a short BLAKE3 digest of the compacted event.
func EventDigest(event json.RawMessage) string {
	sum := blake3.Sum256([]byte(protocol.CompactJSON(event)))
	return hex.EncodeToString(sum[:16])
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return strings.ToValidUTF8(s[:maxOutputBytes], "")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Record stores a finished invocation.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}
	digest := e.EventDigest
	if digest == "" {
		digest = EventDigest(e.Event)
	}
	var event any
	if len(e.Event) > 0 {
		event = protocol.CompactJSON(e.Event)
	}
	var exitCode any
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, function_name, request_id, outcome, worker_pid, worker_spawned, exit_code,
  event_digest, event, output, has_data, diagnostic, started_at, deadline_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.FunctionName, e.RequestID, e.Outcome, e.WorkerPID, e.WorkerSpawned, exitCode,
		digest, event, truncate(e.Output), e.HasData, truncate(e.Diagnostic),
		formatTime(e.StartedAt), formatTime(e.DeadlineAt), formatTime(e.CompletedAt), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert invocation_log: %w", err)
	}
	return nil
}

const entryColumns = `id, function_name, request_id, outcome, worker_pid, worker_spawned, exit_code,
  event_digest, event, output, has_data, diagnostic, started_at, deadline_at, completed_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                              Entry
		requestID, digest, event, diag sql.NullString
		output                         sql.NullString
		pid, exitCode                  sql.NullInt64
		started, deadlineAt, completed string
		durationMS                     int64
	)
	if err := row.Scan(&e.ID, &e.FunctionName, &requestID, &e.Outcome, &pid, &e.WorkerSpawned, &exitCode,
		&digest, &event, &output, &e.HasData, &diag, &started, &deadlineAt, &completed, &durationMS); err != nil {
		return nil, err
	}
	e.RequestID = requestID.String
	e.EventDigest = digest.String
	if event.Valid {
		e.Event = json.RawMessage(event.String)
	}
	e.Output = output.String
	e.Diagnostic = diag.String
	e.WorkerPID = int(pid.Int64)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	e.StartedAt = parseTime(started)
	e.DeadlineAt = parseTime(deadlineAt)
	e.CompletedAt = parseTime(completed)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return &e, nil
}

// Get returns one invocation by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM invocation_log WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invocation %s: %w", id, err)
	}
	return e, nil
}

// Recent returns the newest invocations first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `SELECT ` + entryColumns + ` FROM invocation_log`
	args := []any{}
	if f.Outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, f.Outcome)
	}
	query += ` ORDER BY started_at DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// RecordNotification stores the result of delivering n. deliveryErr is nil
// when the sink accepted it.
func (s *Store) RecordNotification(ctx context.Context, n notify.Notification, deliveryErr error) error {
	var errText any
	if deliveryErr != nil {
		errText = deliveryErr.Error()
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notification_log(id, invocation_id, kind, subject, dedupe_key, delivered, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, n.ID, n.InvocationID, string(n.Kind), n.Subject, n.DedupeKey, deliveryErr == nil, errText, formatTime(created))
	if err != nil {
		return fmt.Errorf("insert notification_log: %w", err)
	}
	return nil
}

// Notifications lists the notifications recorded for an invocation, oldest first.
func (s *Store) Notifications(ctx context.Context, invocationID string) ([]NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, invocation_id, kind, subject, dedupe_key, delivered, error, created_at
FROM notification_log
WHERE invocation_id = ?
ORDER BY created_at ASC;
`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var (
			r              NotificationRecord
			dedupe, errTxt sql.NullString
			created        string
		)
		if err := rows.Scan(&r.ID, &r.InvocationID, &r.Kind, &r.Subject, &dedupe, &r.Delivered, &errTxt, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		r.DedupeKey = dedupe.String
		r.Error = errTxt.String
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes invocations (and their notifications) that started before
// now minus retention. It returns the number of invocations removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-retention))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM notification_log
WHERE invocation_id IN (SELECT id FROM invocation_log WHERE started_at < ?);
`, cutoff); err != nil {
		return 0, fmt.Errorf("prune notification_log: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM invocation_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocation_log: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
