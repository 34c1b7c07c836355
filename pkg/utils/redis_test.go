package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestTryLock_AcquireAndHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("sync:tenant-1", `.+`, time.Minute).SetVal(true)
	mock.Regexp().ExpectSetNX("sync:tenant-1", `.+`, time.Minute).SetVal(false)

	l, err := TryLock(context.Background(), db, "sync:tenant-1", time.Minute)
	if err != nil {
		t.Fatalf("expected lock, got %v", err)
	}
	if l == nil || l.token == "" {
		t.Fatalf("expected owner token")
	}

	if _, err := TryLock(context.Background(), db, "sync:tenant-1", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestTryLock_ValidatesArgs(t *testing.T) {
	db, _ := redismock.NewClientMock()
	if _, err := TryLock(context.Background(), db, "", time.Minute); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := TryLock(context.Background(), db, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := TryLock(context.Background(), nil, "k", time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestLockRelease_NilSafe(t *testing.T) {
	var l *Lock
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestLockScriptInitialized(t *testing.T) {
	if lockReleaseScript == nil {
		t.Fatalf("expected release script to be initialized")
	}
}
