package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestHandleExecContextReturnsRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE accounts SET balance = \\$1 WHERE id = \\$2").
		WithArgs(100, "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := &Handle{Name: "accounts-db", DB: db}
	n, err := h.ExecContext(context.Background(), "UPDATE accounts SET balance = $1 WHERE id = $2", 100, "acct-1")
	if err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows affected = %d, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegistryGetUnknownDatasource(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown datasource")
	}
}

func TestRegistryPutAndGet(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	reg := NewRegistry()
	reg.Put("orders-db", &Handle{Name: "orders-db", DB: db})

	h, err := reg.Get("orders-db")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Name != "orders-db" {
		t.Fatalf("got handle %q, want orders-db", h.Name)
	}
}
