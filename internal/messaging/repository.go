package messaging

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"softphone-platform/pkg/utils"

	"github.com/google/uuid"
)

// Repository is the persistence contract for conversations and messages.
type Repository interface {
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// FindOrCreateConversation returns the tenant's conversation for phoneNumber,
	// creating it with displayName when absent.
	FindOrCreateConversation(ctx context.Context, tenantID, phoneNumber, displayName string) (Conversation, error)
	ListConversations(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error)

	// InsertMessage stores m and bumps the conversation's last_message_at.
	// It reports false when a message with the same non-empty provider id already exists.
	InsertMessage(ctx context.Context, m Message) (Message, bool, error)
	FindByProviderID(ctx context.Context, providerMessageID string) (Message, error)
	// UpdateMessage sets status, provider id (when non-empty) and error code by local id.
	UpdateMessage(ctx context.Context, id, status, providerMessageID, errorCode string) (Message, error)
	UpdateStatusByProviderID(ctx context.Context, providerMessageID, status, errorCode string) (Message, error)
	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// PostgresRepo implements Repository over database/sql (pgx stdlib driver).
//
// NOTE: assumes tables conversations (UNIQUE tenant_id, phone_number) and messages
// with a partial unique index on provider_message_id <> ''.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const conversationColumns = `id, tenant_id, phone_number, display_name, last_message_at, created_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var (
		c    Conversation
		last sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.PhoneNumber, &c.DisplayName, &last, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	if last.Valid {
		t := last.Time
		c.LastMessageAt = &t
	}
	return c, nil
}

const messageColumns = `id, tenant_id, conversation_id, direction, body, status, provider_message_id,
from_number, to_number, error_code, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	if err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.ConversationID,
		&m.Direction,
		&m.Body,
		&m.Status,
		&m.ProviderMessageID,
		&m.From,
		&m.To,
		&m.ErrorCode,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return m, nil
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindOrCreateConversation(ctx context.Context, tenantID, phoneNumber, displayName string) (Conversation, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	q := `
INSERT INTO conversations (id, tenant_id, phone_number, display_name, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
RETURNING ` + conversationColumns
	return scanConversation(r.db.QueryRowContext(ctx, q, uuid.NewString(), tenantID, phoneNumber, displayName, r.clock().UTC()))
}

func (r *PostgresRepo) ListConversations(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations
WHERE tenant_id = $1
ORDER BY last_message_at DESC NULLS LAST, created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, q, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	now := r.clock().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt

	inserted := false
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `
INSERT INTO messages (` + messageColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (provider_message_id) WHERE provider_message_id <> '' DO NOTHING
`
		res, err := tx.ExecContext(ctx, q,
			m.ID, m.TenantID, m.ConversationID, m.Direction, m.Body, m.Status, m.ProviderMessageID,
			m.From, m.To, m.ErrorCode, m.CreatedAt, m.UpdatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		inserted = true

		const touch = `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
		_, err = tx.ExecContext(ctx, touch, m.ConversationID, m.CreatedAt)
		return err
	})
	if err != nil {
		return Message{}, false, err
	}
	return m, inserted, nil
}

func (r *PostgresRepo) FindByProviderID(ctx context.Context, providerMessageID string) (Message, error) {
	if providerMessageID == "" {
		return Message{}, ErrNotFound
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1`
	return scanMessage(r.db.QueryRowContext(ctx, q, providerMessageID))
}

func (r *PostgresRepo) UpdateMessage(ctx context.Context, id, status, providerMessageID, errorCode string) (Message, error) {
	q := `
UPDATE messages
SET status = $2,
    provider_message_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_message_id END,
    error_code = $4,
    updated_at = $5
WHERE id = $1
RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRowContext(ctx, q, id, status, providerMessageID, errorCode, r.clock().UTC()))
}

func (r *PostgresRepo) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status, errorCode string) (Message, error) {
	q := `
UPDATE messages
SET status = $2, error_code = $3, updated_at = $4
WHERE provider_message_id = $1
RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRowContext(ctx, q, providerMessageID, status, errorCode, r.clock().UTC()))
}

func (r *PostgresRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM (
  SELECT ` + messageColumns + ` FROM messages
  WHERE conversation_id = $1
  ORDER BY created_at DESC, id DESC
  LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
