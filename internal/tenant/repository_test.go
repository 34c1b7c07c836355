package tenant

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemoryRepo_ReplaceNumbersKeepsAssignments(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutTenant(Tenant{ID: "t1"})
	a := repo.PutAgent(Agent{TenantID: "t1", Identity: "alice", Active: true})
	n := repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550001111", Active: true})
	repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550002222", Active: true})
	repo.Assign(n.ID, a.ID)

	err := repo.ReplaceNumbers(context.Background(), "t1", []ProviderNumber{
		{Number: "+15550001111", ProviderSID: "PN1", Active: true},
		{Number: "+15550003333", ProviderSID: "PN3", Active: true},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	nums, _ := repo.ListNumbers(context.Background(), "t1")
	if len(nums) != 2 {
		t.Fatalf("expected full replace to 2 numbers, got %d", len(nums))
	}
	if nums[0].Number != "+15550001111" {
		t.Fatalf("expected provider order preserved, got %q first", nums[0].Number)
	}

	kept, _ := repo.FindNumber(context.Background(), "+15550001111")
	agents, _ := repo.AssignedAgents(context.Background(), kept.ID)
	if len(agents) != 1 || agents[0].Identity != "alice" {
		t.Fatalf("expected alice to stay assigned, got %+v", agents)
	}
	if _, err := repo.FindNumber(context.Background(), "+15550002222"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected removed number to be gone")
	}
}

func TestMemoryRepo_NumbersAreUniqueAcrossTenants(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550001111"})

	if err := repo.ReplaceNumbers(context.Background(), "t2", []ProviderNumber{{Number: "+15550001111"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := repo.InsertNumber(context.Background(), ProviderNumber{TenantID: "t2", Number: "+15550001111"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryRepo_ActiveNumberIsFirstActive(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550000001", Active: false})
	repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550000002", Active: true})
	repo.PutNumber(ProviderNumber{TenantID: "t1", Number: "+15550000003", Active: true})

	n, err := repo.ActiveNumber(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n.Number != "+15550000002" {
		t.Fatalf("expected first active number, got %q", n.Number)
	}
	if _, err := repo.ActiveNumber(context.Background(), "t9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
}

func TestPostgresRepo_GetTenantNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE id = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepo(db)
	if _, err := repo.GetTenant(context.Background(), "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_FindNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM provider_numbers WHERE number = $1")).
		WithArgs("+15550001111").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "number", "provider_sid", "friendly_name", "active", "created_at"}).
			AddRow("n1", "t1", "+15550001111", "PN1", "Main", true, at))

	repo := NewPostgresRepo(db)
	n, err := repo.FindNumber(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n.TenantID != "t1" || !n.Active || n.ProviderSID != "PN1" {
		t.Fatalf("unexpected row %+v", n)
	}
}

func TestPostgresRepo_ReplaceNumbersRunsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM number_assignments na")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"number", "agent_id"}).AddRow("+15550001111", "a1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM provider_numbers WHERE tenant_id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO provider_numbers")).
		WithArgs(sqlmock.AnyArg(), "t1", "+15550001111", "PN1", "", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO number_assignments")).
		WithArgs(sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresRepo(db)
	err = repo.ReplaceNumbers(context.Background(), "t1", []ProviderNumber{{Number: "+15550001111", ProviderSID: "PN1", Active: true}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_ReplaceNumbersRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM number_assignments na")).
		WillReturnRows(sqlmock.NewRows([]string{"number", "agent_id"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM provider_numbers")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO provider_numbers")).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	repo := NewPostgresRepo(db)
	if err := repo.ReplaceNumbers(context.Background(), "t1", []ProviderNumber{{Number: "+15550001111"}}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_SaveCredentialsMissingTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tenants")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepo(db)
	if err := repo.SaveCredentials(context.Background(), "t1", Credentials{AccountSID: "AC1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
