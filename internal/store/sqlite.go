package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/metrics"
)

// ErrNotFound is the kind returned for missing rows.
var ErrNotFound = apperrors.ErrNotFound

type SQLiteStore struct {
	db              *sql.DB
	path            string
	retryMaxElapsed time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
}

// Options tunes locking and instrumentation. Zero values pick defaults.
type Options struct {
	BusyTimeout     time.Duration
	RetryMaxElapsed time.Duration
	MaxOpenConns    int
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// All timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    variants TEXT NOT NULL,
    winner_variant TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    reset_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status, created_at);

CREATE TABLE IF NOT EXISTS visitor_assignments (
    experiment TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    assigned_at INTEGER NOT NULL,
    PRIMARY KEY (experiment, visitor_id)
);

CREATE TABLE IF NOT EXISTS variant_counters (
    experiment TEXT NOT NULL,
    variant TEXT NOT NULL,
    views INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment, variant)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment TEXT NOT NULL,
    variant TEXT NOT NULL,
    event_type TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    metadata TEXT,
    archived INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_conversion_dedup
    ON events(experiment, visitor_id) WHERE event_type = 'conversion' AND archived = 0;

CREATE TABLE IF NOT EXISTS click_intents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    visitor_id TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    experiment TEXT NOT NULL DEFAULT '',
    variant TEXT NOT NULL DEFAULT '',
    page TEXT NOT NULL DEFAULT '',
    utm_source TEXT NOT NULL DEFAULT '',
    utm_medium TEXT NOT NULL DEFAULT '',
    utm_campaign TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_click_intents_phone ON click_intents(phone, created_at);
CREATE INDEX IF NOT EXISTS idx_click_intents_created ON click_intents(created_at);

CREATE TABLE IF NOT EXISTS calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call_sid TEXT UNIQUE NOT NULL,
    caller_phone TEXT NOT NULL DEFAULT '',
    called_number TEXT NOT NULL DEFAULT '',
    call_status TEXT NOT NULL DEFAULT '',
    duration INTEGER NOT NULL DEFAULT 0,
    ab_experiment TEXT,
    ab_variant TEXT,
    attribution_method TEXT,
    lead_id TEXT,
    recording_url TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_created ON calls(created_at);
`

// Open opens (creating if needed) the database at dbPath with default options.
func Open(dbPath string) (*SQLiteStore, error) {
	return OpenWithOptions(dbPath, Options{})
}

// OpenWithOptions opens the database at dbPath. Write transactions take the
// lock at BEGIN (_txlock=immediate) so busy_timeout applies to them.
func OpenWithOptions(dbPath string, opts Options) (*SQLiteStore, error) {
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.RetryMaxElapsed == 0 {
		opts.RetryMaxElapsed = 250 * time.Millisecond
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		dbPath, opts.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{
		db:              db,
		path:            dbPath,
		retryMaxElapsed: opts.RetryMaxElapsed,
		metrics:         opts.Metrics,
		now:             opts.Now,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.StoreUnavailable("ping", err)
	}
	return nil
}

// SizeBytes reports the database size from the page count.
func (s *SQLiteStore) SizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	).Scan(&size)
	if err != nil {
		return 0, apperrors.StoreUnavailable("db size", err)
	}
	return size, nil
}

// ---- experiments ----

const experimentColumns = `id, name, status, variants, winner_variant, created_at, updated_at, reset_at`

func (s *SQLiteStore) CreateExperiment(ctx context.Context, name string, variants []Variant) (*Experiment, error) {
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	var exp *Experiment
	err = s.inTx(ctx, "create experiment", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return apperrors.Validation("name", fmt.Sprintf("experiment %q already exists", name))
		}

		now := s.now().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (name, status, variants, created_at, updated_at)
			 VALUES (?, 'active', ?, ?, ?)`,
			name, string(variantsJSON), now, now,
		); err != nil {
			return err
		}

		exp, err = scanExperiment(tx.QueryRowContext(ctx,
			`SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// GetOrCreateExperiment returns the named experiment, inserting it with
// variants if absent. The bool reports whether this call created it.
func (s *SQLiteStore) GetOrCreateExperiment(ctx context.Context, name string, variants []Variant) (*Experiment, bool, error) {
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal variants: %w", err)
	}

	var exp *Experiment
	var created bool
	err = s.inTx(ctx, "get or create experiment", func(tx *sql.Tx) error {
		now := s.now().UnixMilli()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (name, status, variants, created_at, updated_at)
			 VALUES (?, 'active', ?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			name, string(variantsJSON), now, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		exp, err = scanExperiment(tx.QueryRowContext(ctx,
			`SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return exp, created, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	var exp *Experiment
	err := s.run(ctx, "get experiment", func() error {
		var err error
		exp, err = scanExperiment(s.db.QueryRowContext(ctx,
			`SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name))
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("experiment", name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	return s.listExperiments(ctx, "list experiments",
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, id DESC`)
}

// ListActiveExperiments returns active experiments, most recently created first.
func (s *SQLiteStore) ListActiveExperiments(ctx context.Context) ([]*Experiment, error) {
	return s.listExperiments(ctx, "list active experiments",
		`SELECT `+experimentColumns+` FROM experiments WHERE status = 'active' ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) listExperiments(ctx context.Context, op, query string, args ...any) ([]*Experiment, error) {
	var experiments []*Experiment
	err := s.run(ctx, op, func() error {
		experiments = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			exp, err := scanExperiment(rows)
			if err != nil {
				return err
			}
			experiments = append(experiments, exp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return experiments, nil
}

// SetWinner records the declared winner and completes the experiment.
func (s *SQLiteStore) SetWinner(ctx context.Context, name, variant string) error {
	return s.run(ctx, "set winner", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE experiments SET status = 'completed', winner_variant = ?, updated_at = ? WHERE name = ?`,
			variant, s.now().UnixMilli(), name,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("experiment", name)
		}
		return nil
	})
}

// ResetExperiment deletes assignments and counters, archives the event
// history and marks the experiment completed with no winner. Tracking
// still works afterwards; completed experiments only drop out of
// ListActiveExperiments.
func (s *SQLiteStore) ResetExperiment(ctx context.Context, name string) error {
	return s.inTx(ctx, "reset experiment", func(tx *sql.Tx) error {
		now := s.now().UnixMilli()
		result, err := tx.ExecContext(ctx,
			`UPDATE experiments SET status = 'completed', winner_variant = NULL, reset_at = ?, updated_at = ? WHERE name = ?`,
			now, now, name,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("experiment", name)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM visitor_assignments WHERE experiment = ?`, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM variant_counters WHERE experiment = ?`, name); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE events SET archived = 1 WHERE experiment = ? AND archived = 0`, name)
		return err
	})
}

// ---- assignments and events ----

// AssignIfAbsent persists variant for the visitor unless an assignment
// already exists, and returns the stored assignment either way.
func (s *SQLiteStore) AssignIfAbsent(ctx context.Context, experiment, visitorID, variant string) (*Assignment, bool, error) {
	var a Assignment
	var created bool
	err := s.inTx(ctx, "assign variant", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO visitor_assignments (experiment, visitor_id, variant, assigned_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(experiment, visitor_id) DO NOTHING`,
			experiment, visitorID, variant, s.now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		var assignedAt int64
		a = Assignment{Experiment: experiment, VisitorID: visitorID}
		if err := tx.QueryRowContext(ctx,
			`SELECT variant, assigned_at FROM visitor_assignments WHERE experiment = ? AND visitor_id = ?`,
			experiment, visitorID,
		).Scan(&a.Variant, &assignedAt); err != nil {
			return err
		}
		a.AssignedAt = time.UnixMilli(assignedAt)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &a, created, nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, experiment, visitorID string) (*Assignment, error) {
	a := Assignment{Experiment: experiment, VisitorID: visitorID}
	err := s.run(ctx, "get assignment", func() error {
		var assignedAt int64
		err := s.db.QueryRowContext(ctx,
			`SELECT variant, assigned_at FROM visitor_assignments WHERE experiment = ? AND visitor_id = ?`,
			experiment, visitorID,
		).Scan(&a.Variant, &assignedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("assignment", experiment+"/"+visitorID)
		}
		if err != nil {
			return err
		}
		a.AssignedAt = time.UnixMilli(assignedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RecordEvent stores the event and bumps the variant counter in the same
// transaction. Views always count; a conversion counts only if it is the
// visitor's first for the experiment. The bool reports whether a counter
// changed.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e *Event) (bool, error) {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var counted bool
	err := s.inTx(ctx, "record event", func(tx *sql.Tx) error {
		counted = false

		// INSERT OR IGNORE deduplicates conversions via the partial unique index
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events (experiment, variant, event_type, visitor_id, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Experiment, e.Variant, e.EventType, e.VisitorID, metadataJSON, createdAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		var views, conversions int
		switch {
		case e.EventType == EventView:
			views = 1
		case e.EventType == EventConversion && inserted == 1:
			conversions = 1
		default:
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variant_counters (experiment, variant, views, conversions)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(experiment, variant) DO UPDATE SET
			     views = views + excluded.views,
			     conversions = conversions + excluded.conversions`,
			e.Experiment, e.Variant, views, conversions,
		); err != nil {
			return err
		}
		counted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return counted, nil
}

func (s *SQLiteStore) GetVariantCounters(ctx context.Context, experiment string) ([]VariantCounter, error) {
	var counters []VariantCounter
	err := s.run(ctx, "get variant counters", func() error {
		counters = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT variant, views, conversions FROM variant_counters WHERE experiment = ? ORDER BY variant`,
			experiment,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c VariantCounter
			if err := rows.Scan(&c.Variant, &c.Views, &c.Conversions); err != nil {
				return err
			}
			counters = append(counters, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counters, nil
}

// GetEvents returns every event for the experiment, archived ones included,
// newest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, experiment string) ([]*Event, error) {
	var events []*Event
	err := s.run(ctx, "get events", func() error {
		events = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, experiment, variant, event_type, visitor_id, metadata, archived, created_at
			 FROM events WHERE experiment = ? ORDER BY created_at DESC, id DESC`,
			experiment,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e Event
			var metadata sql.NullString
			var createdAt int64
			if err := rows.Scan(&e.ID, &e.Experiment, &e.Variant, &e.EventType, &e.VisitorID, &metadata, &e.Archived, &createdAt); err != nil {
				return err
			}
			if metadata.Valid && metadata.String != "" {
				if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
					return fmt.Errorf("failed to unmarshal metadata: %w", err)
				}
			}
			e.CreatedAt = time.UnixMilli(createdAt)
			events = append(events, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ---- click intents ----

func (s *SQLiteStore) RecordClickIntent(ctx context.Context, ci *ClickIntent) error {
	if ci.CreatedAt.IsZero() {
		ci.CreatedAt = s.now()
	}
	return s.run(ctx, "record click intent", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO click_intents (visitor_id, phone, experiment, variant, page, utm_source, utm_medium, utm_campaign, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ci.VisitorID, ci.Phone, ci.Experiment, ci.Variant, ci.Page,
			ci.UTMSource, ci.UTMMedium, ci.UTMCampaign, ci.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		ci.ID, err = res.LastInsertId()
		return err
	})
}

// FindClickIntentsNear returns intents created within window before
// callTime, most recent first. Intents for phone are preferred; when none
// match (or phone is empty) intents for any phone in the window are
// returned, since the caller and the visitor who clicked are often
// different people in one household.
func (s *SQLiteStore) FindClickIntentsNear(ctx context.Context, phone string, callTime time.Time, window time.Duration) ([]*ClickIntent, error) {
	from := callTime.Add(-window).UnixMilli()
	to := callTime.UnixMilli()

	if phone != "" {
		intents, err := s.queryClickIntents(ctx,
			`SELECT `+clickIntentColumns+` FROM click_intents
			 WHERE phone = ? AND created_at >= ? AND created_at <= ?
			 ORDER BY created_at DESC, id DESC`,
			phone, from, to,
		)
		if err != nil || len(intents) > 0 {
			return intents, err
		}
	}

	return s.queryClickIntents(ctx,
		`SELECT `+clickIntentColumns+` FROM click_intents
		 WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at DESC, id DESC`,
		from, to,
	)
}

// PruneClickIntents deletes intents created before the cutoff.
func (s *SQLiteStore) PruneClickIntents(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.run(ctx, "prune click intents", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM click_intents WHERE created_at < ?`, before.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

const clickIntentColumns = `id, visitor_id, phone, experiment, variant, page, utm_source, utm_medium, utm_campaign, created_at`

func (s *SQLiteStore) queryClickIntents(ctx context.Context, query string, args ...any) ([]*ClickIntent, error) {
	var intents []*ClickIntent
	err := s.run(ctx, "find click intents", func() error {
		intents = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ci ClickIntent
			var createdAt int64
			if err := rows.Scan(&ci.ID, &ci.VisitorID, &ci.Phone, &ci.Experiment, &ci.Variant, &ci.Page,
				&ci.UTMSource, &ci.UTMMedium, &ci.UTMCampaign, &createdAt); err != nil {
				return err
			}
			ci.CreatedAt = time.UnixMilli(createdAt)
			intents = append(intents, &ci)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// ---- calls ----

const callColumns = `id, call_sid, caller_phone, called_number, call_status, duration,
	ab_experiment, ab_variant, attribution_method, lead_id, recording_url, created_at, updated_at`

// RecordOrUpdateCall inserts the call if its call_sid is new. For a known
// call_sid only call_status, duration, lead_id and recording_url are
// updated; attribution fields are never touched here. The bool reports
// whether the row was created.
func (s *SQLiteStore) RecordOrUpdateCall(ctx context.Context, u CallUpdate) (*CallRecord, bool, error) {
	receivedAt := u.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	var duration sql.NullInt64
	if u.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*u.Duration), Valid: true}
	}

	var rec *CallRecord
	var created bool
	err := s.inTx(ctx, "record call", func(tx *sql.Tx) error {
		now := receivedAt.UnixMilli()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO calls (call_sid, caller_phone, called_number, call_status, duration, lead_id, recording_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, COALESCE(?, 0), NULLIF(?, ''), NULLIF(?, ''), ?, ?)
			 ON CONFLICT(call_sid) DO NOTHING`,
			u.CallSid, u.CallerPhone, u.CalledNumber, u.CallStatus, duration, u.LeadID, u.RecordingURL, now, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		if !created {
			if _, err := tx.ExecContext(ctx,
				`UPDATE calls SET
				     call_status = COALESCE(NULLIF(?, ''), call_status),
				     duration = COALESCE(?, duration),
				     lead_id = COALESCE(NULLIF(?, ''), lead_id),
				     recording_url = COALESCE(NULLIF(?, ''), recording_url),
				     updated_at = ?
				 WHERE call_sid = ?`,
				u.CallStatus, duration, u.LeadID, u.RecordingURL, s.now().UnixMilli(), u.CallSid,
			); err != nil {
				return err
			}
		}

		rec, err = scanCall(tx.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_sid = ?`, u.CallSid))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// SetCallAttribution writes the attribution fields only if they have never
// been written. The bool reports whether this call wrote them.
func (s *SQLiteStore) SetCallAttribution(ctx context.Context, callSid string, experiment, variant *string, method string) (bool, error) {
	var applied bool
	err := s.inTx(ctx, "set call attribution", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE calls SET ab_experiment = ?, ab_variant = ?, attribution_method = ?, updated_at = ?
			 WHERE call_sid = ? AND attribution_method IS NULL`,
			nullable(experiment), nullable(variant), method, s.now().UnixMilli(), callSid,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		if applied {
			return nil
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE call_sid = ?`, callSid).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return apperrors.NotFound("call", callSid)
		}
		return nil
	})
	return applied, err
}

func (s *SQLiteStore) GetCall(ctx context.Context, callSid string) (*CallRecord, error) {
	var rec *CallRecord
	err := s.run(ctx, "get call", func() error {
		var err error
		rec, err = scanCall(s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_sid = ?`, callSid))
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("call", callSid)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCalls returns the most recent calls first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var calls []*CallRecord
	err := s.run(ctx, "list calls", func() error {
		calls = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+callColumns+` FROM calls ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanCall(rows)
			if err != nil {
				return err
			}
			calls = append(calls, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var variantsJSON string
	var winner sql.NullString
	var createdAt, updatedAt int64
	var resetAt sql.NullInt64

	if err := row.Scan(&exp.ID, &exp.Name, &exp.Status, &variantsJSON, &winner, &createdAt, &updatedAt, &resetAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	exp.WinnerVariant = stringPtr(winner)
	exp.CreatedAt = time.UnixMilli(createdAt)
	exp.UpdatedAt = time.UnixMilli(updatedAt)
	if resetAt.Valid {
		t := time.UnixMilli(resetAt.Int64)
		exp.ResetAt = &t
	}

	return &exp, nil
}

func scanCall(row rowScanner) (*CallRecord, error) {
	var rec CallRecord
	var experiment, variant, method, leadID, recordingURL sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&rec.ID, &rec.CallSid, &rec.CallerPhone, &rec.CalledNumber, &rec.CallStatus, &rec.Duration,
		&experiment, &variant, &method, &leadID, &recordingURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.ABExperiment = stringPtr(experiment)
	rec.ABVariant = stringPtr(variant)
	rec.AttributionMethod = stringPtr(method)
	rec.LeadID = stringPtr(leadID)
	rec.RecordingURL = stringPtr(recordingURL)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)

	return &rec, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
