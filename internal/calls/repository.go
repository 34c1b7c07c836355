package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"softphone-platform/pkg/utils"

	"github.com/google/uuid"
)

// Repository is the persistence contract for voice calls and their callback trail.
//
// Open-call finders return the most recently created match (ties broken by id)
// and ErrNotFound when none exists. An empty tenantID searches across tenants.
type Repository interface {
	InsertCall(ctx context.Context, c VoiceCall) (VoiceCall, error)
	GetCall(ctx context.Context, id string) (VoiceCall, error)
	UpdateStatus(ctx context.Context, id string, status CallStatus, durationSeconds int) error

	FindByCallbackID(ctx context.Context, callSID string) (VoiceCall, error)
	FindOpenByNumbers(ctx context.Context, tenantID, from, to string) (VoiceCall, error)
	FindOpenByIdentity(ctx context.Context, tenantID, identity, to string) (VoiceCall, error)
	// StampCallback binds callSID to an open call. It reports false when the
	// slot was already taken (a lost race), never overwriting it.
	StampCallback(ctx context.Context, id, callSID string) (bool, error)

	FindByRecordingID(ctx context.Context, callSID string) (VoiceCall, error)
	// FindRecordingCandidate returns the most recent call of identity whose recording slot is empty.
	FindRecordingCandidate(ctx context.Context, tenantID, identity string) (VoiceCall, error)
	StampRecording(ctx context.Context, id, callSID, recordingSID, recordingURL string) (bool, error)

	// AppendEvent inserts an event. It reports false when the same kind/call_sid/status
	// was already recorded.
	AppendEvent(ctx context.Context, e CallStatusEvent) (bool, error)
}

// PostgresRepo implements Repository over database/sql (pgx stdlib driver).
//
// NOTE: assumes tables voice_calls and call_status_events (internal/storage/migrations),
// with UNIQUE (kind, call_sid, status) on call_status_events and partial unique
// indexes on the non-empty correlation slots of voice_calls.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `id, tenant_id, identity, type, from_number, to_number, callback_call_id, recording_call_id,
status, duration_seconds, recording_sid, recording_url, created_at, updated_at`

const openCall = `callback_call_id = '' AND recording_call_id = '' AND status <> 'failed'`

func scanCall(row interface{ Scan(...any) error }) (VoiceCall, error) {
	var c VoiceCall
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Identity,
		&c.Type,
		&c.From,
		&c.To,
		&c.CallbackCallID,
		&c.RecordingCallID,
		&c.Status,
		&c.DurationSeconds,
		&c.RecordingSID,
		&c.RecordingURL,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoiceCall{}, ErrNotFound
		}
		return VoiceCall{}, err
	}
	return c, nil
}

func (r *PostgresRepo) InsertCall(ctx context.Context, c VoiceCall) (VoiceCall, error) {
	now := r.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	q := `INSERT INTO voice_calls (` + callColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.TenantID, c.Identity, c.Type, c.From, c.To,
		c.CallbackCallID, c.RecordingCallID, c.Status, c.DurationSeconds,
		c.RecordingSID, c.RecordingURL, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return VoiceCall{}, err
	}
	return c, nil
}

func (r *PostgresRepo) GetCall(ctx context.Context, id string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status CallStatus, durationSeconds int) error {
	const q = `
UPDATE voice_calls
SET status = $2,
    duration_seconds = CASE WHEN $3 > 0 THEN $3 ELSE duration_seconds END,
    updated_at = $4
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, status, durationSeconds, r.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FindByCallbackID(ctx context.Context, callSID string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE callback_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, callSID))
}

func (r *PostgresRepo) FindOpenByNumbers(ctx context.Context, tenantID, from, to string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls
WHERE ` + openCall + ` AND from_number = $1 AND to_number = $2 AND ($3 = '' OR tenant_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, from, to, tenantID))
}

func (r *PostgresRepo) FindOpenByIdentity(ctx context.Context, tenantID, identity, to string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls
WHERE ` + openCall + ` AND identity = $1 AND to_number = $2 AND ($3 = '' OR tenant_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, identity, to, tenantID))
}

func (r *PostgresRepo) StampCallback(ctx context.Context, id, callSID string) (bool, error) {
	const q = `UPDATE voice_calls SET callback_call_id = $2, updated_at = $3 WHERE id = $1 AND callback_call_id = ''`
	return r.stamp(ctx, q, id, callSID, r.clock().UTC())
}

func (r *PostgresRepo) FindByRecordingID(ctx context.Context, callSID string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls WHERE recording_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, callSID))
}

func (r *PostgresRepo) FindRecordingCandidate(ctx context.Context, tenantID, identity string) (VoiceCall, error) {
	q := `SELECT ` + callColumns + ` FROM voice_calls
WHERE recording_call_id = '' AND identity = $1 AND ($2 = '' OR tenant_id = $2)
ORDER BY created_at DESC, id DESC
LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, identity, tenantID))
}

func (r *PostgresRepo) StampRecording(ctx context.Context, id, callSID, recordingSID, recordingURL string) (bool, error) {
	const q = `
UPDATE voice_calls
SET recording_call_id = $2, recording_sid = $3, recording_url = $4, updated_at = $5
WHERE id = $1 AND recording_call_id = ''
`
	return r.stamp(ctx, q, id, callSID, recordingSID, recordingURL, r.clock().UTC())
}

func (r *PostgresRepo) stamp(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		// Another row already holds this CallSid.
		if utils.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e CallStatusEvent) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock().UTC()
	}
	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}
	const q = `
INSERT INTO call_status_events
  (id, tenant_id, voice_call_id, kind, call_sid, status, from_number, to_number,
   duration_seconds, recording_sid, recording_url, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (kind, call_sid, status) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID, nullable(e.TenantID), nullable(e.VoiceCallID), e.Kind, e.CallSID, e.Status,
		e.From, e.To, e.DurationSeconds, e.RecordingSID, e.RecordingURL, payload, e.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
