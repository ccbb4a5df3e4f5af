package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timeLayout is fixed width so recorded_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// StateRecord is one row of receiver state history.
// Nil pointers and an empty Source mean the value was unknown.
type StateRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Power      string    `json:"power"`
	Volume     *float64  `json:"volume,omitempty"`
	Muted      *bool     `json:"muted,omitempty"`
	Source     string    `json:"source,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SQLiteStore implements receiver persistence on SQLite.
//
// Thread Safety: safe for concurrent use; database/sql serialises access.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// LoadSources returns the persisted input catalog (name → code).
// Returns an empty map when nothing has been saved.
func (s *SQLiteStore) LoadSources(ctx context.Context, deviceID string) (map[string]string, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT code, name FROM receiver_sources WHERE device_id = ? ORDER BY code",
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	sources := make(map[string]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources[name] = code
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

// SaveSources replaces the persisted input catalog in one transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Receiver identifier
//   - sources: Input name → two-digit code
//
// Returns:
//   - error: ErrInvalidSources if a code is not two characters or is
//     used twice, otherwise the underlying database error
func (s *SQLiteStore) SaveSources(ctx context.Context, deviceID string, sources map[string]string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}

	names := make([]string, 0, len(sources))
	seen := make(map[string]string, len(sources))
	for name, code := range sources {
		if name == "" || len(code) != 2 {
			return fmt.Errorf("%w: %q=%q", ErrInvalidSources, name, code)
		}
		if other, dup := seen[code]; dup {
			return fmt.Errorf("%w: code %s used by %q and %q", ErrInvalidSources, code, other, name)
		}
		seen[code] = name
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM receiver_sources WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO receiver_sources (device_id, code, name) VALUES (?, ?, ?)",
			deviceID, sources[name], name,
		); err != nil {
			return fmt.Errorf("inserting source %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sources: %w", err)
	}
	return nil
}

// LoadStepIncrement returns the persisted volume step, or 0 if unknown.
func (s *SQLiteStore) LoadStepIncrement(ctx context.Context, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, ErrDeviceIDRequired
	}

	var inc int
	err := s.db.QueryRowContext(ctx,
		"SELECT increment FROM receiver_volume_step WHERE device_id = ?",
		deviceID,
	).Scan(&inc)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying volume step: %w", err)
	}
	return inc, nil
}

// SaveStepIncrement stores the probed volume step.
func (s *SQLiteStore) SaveStepIncrement(ctx context.Context, deviceID string, increment int) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	if increment <= 0 {
		return fmt.Errorf("%w: volume step %d", ErrInvalidRecord, increment)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receiver_volume_step (device_id, increment, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (device_id) DO UPDATE SET increment = excluded.increment, updated_at = excluded.updated_at`,
		deviceID, increment, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving volume step: %w", err)
	}
	return nil
}

// RecordState appends a history row. A zero RecordedAt means now.
func (s *SQLiteStore) RecordState(ctx context.Context, rec StateRecord) error {
	if rec.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if rec.Power == "" {
		return fmt.Errorf("%w: power is required", ErrInvalidRecord)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}

	var volume, muted, source any
	if rec.Volume != nil {
		volume = *rec.Volume
	}
	if rec.Muted != nil {
		muted = *rec.Muted
	}
	if rec.Source != "" {
		source = rec.Source
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receiver_state_history (device_id, power, volume, muted, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DeviceID, rec.Power, volume, muted, source, rec.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns recent state changes for a receiver, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Receiver identifier
//   - limit: Maximum rows (default 50, max 200)
//
// Returns:
//   - []StateRecord: Rows ordered by recorded_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *SQLiteStore) History(ctx context.Context, deviceID string, limit int) ([]StateRecord, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, power, volume, muted, source, recorded_at
		 FROM receiver_state_history
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	records := make([]StateRecord, 0, limit)
	for rows.Next() {
		var (
			rec        StateRecord
			volume     sql.NullFloat64
			muted      sql.NullBool
			source     sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Power, &volume, &muted, &source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if volume.Valid {
			v := volume.Float64
			rec.Volume = &v
		}
		if muted.Valid {
			m := muted.Bool
			rec.Muted = &m
		}
		rec.Source = source.String

		rec.RecordedAt, err = time.Parse(timeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return records, nil
}

// PruneHistory deletes history rows older than olderThan.
// Returns the number of rows deleted.
func (s *SQLiteStore) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM receiver_state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
