package messaging

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresRepo_InsertMessageDuplicateSkipsTouch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	ins := regexp.QuoteMeta("ON CONFLICT (provider_message_id) WHERE provider_message_id <> '' DO NOTHING")
	touch := regexp.QuoteMeta("UPDATE conversations SET last_message_at")

	mock.ExpectBegin()
	mock.ExpectExec(ins).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(touch).WithArgs("c1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(ins).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	m := Message{TenantID: "t1", ConversationID: "c1", Direction: DirectionInbound, Body: "hi", Status: StatusDelivered, ProviderMessageID: "SM1"}
	if _, inserted, err := repo.InsertMessage(context.Background(), m); err != nil || !inserted {
		t.Fatalf("expected insert, got %v %v", inserted, err)
	}
	if _, inserted, err := repo.InsertMessage(context.Background(), m); err != nil || inserted {
		t.Fatalf("expected duplicate, got %v %v", inserted, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_FindOrCreateConversationReturnsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "phone_number", "display_name", "last_message_at", "created_at"}).
		AddRow("c-existing", "t1", "+15551234567", "(555) 123-4567", nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (tenant_id, phone_number) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), "t1", "+15551234567", "(555) 123-4567", sqlmock.AnyArg()).
		WillReturnRows(rows)

	c, err := repo.FindOrCreateConversation(context.Background(), "t1", "+15551234567", "(555) 123-4567")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if c.ID != "c-existing" || c.LastMessageAt != nil {
		t.Fatalf("unexpected conversation: %+v", c)
	}
}

func TestPostgresRepo_UpdateStatusByProviderIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE provider_message_id = $1")).
		WithArgs("SMx", "delivered", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.UpdateStatusByProviderID(context.Background(), "SMx", "delivered", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
