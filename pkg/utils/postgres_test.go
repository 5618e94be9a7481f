package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

type stubTx struct {
	commits   *int
	rollbacks *int
}

func (t stubTx) Commit() error {
	*t.commits++
	return nil
}

func (t stubTx) Rollback() error {
	*t.rollbacks++
	return nil
}

type stubConn struct {
	commits   *int
	rollbacks *int
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return stubTx{c.commits, c.rollbacks}, nil }

type stubDriver struct {
	commits   int
	rollbacks int
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return stubConn{&d.commits, &d.rollbacks}, nil
}

func openStubDB(t *testing.T, name string) (*sql.DB, *stubDriver) {
	t.Helper()
	d := &stubDriver{}
	sql.Register(name, d)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, d
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, d := openStubDB(t, "withtx-commit")

	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.commits != 1 || d.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", d.commits, d.rollbacks)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, d := openStubDB(t, "withtx-rollback")

	sentinel := errors.New("unit of work failed")
	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if d.commits != 0 || d.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", d.commits, d.rollbacks)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, d := openStubDB(t, "withtx-panic")

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic must propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
			panic("boom")
		})
	}()

	if d.commits != 0 || d.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", d.commits, d.rollbacks)
	}
}
