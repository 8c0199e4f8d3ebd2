package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Fake transaction implementing pgx.Tx so the debit sequence can be
// exercised without a database.
type fakeTx struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx") }
func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFunc != nil {
		return t.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.queryRowFunc(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return db.tx, nil
}
func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{scanFunc: func(dest ...any) error { return errors.New("not implemented") }}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testDebit() Debit {
	return Debit{
		UserID:       "user-1",
		Nickname:     "Alice",
		Model:        "gpt-4",
		InputTokens:  500,
		OutputTokens: 100,
		Cost:         dec("0.0016"),
	}
}

func TestDebit_Success(t *testing.T) {
	var updateArgs []any

	tx := &fakeTx{}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		switch {
		case strings.Contains(sql, "FOR UPDATE"):
			return fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*decimal.Decimal) = dec("100.00")
				return nil
			}}
		case strings.Contains(sql, "INSERT INTO user_usage_records"):
			return fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*int64) = 7
				*dest[1].(*time.Time) = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
				return nil
			}}
		default:
			t.Fatalf("unexpected query: %s", sql)
			return nil
		}
	}
	tx.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		updateArgs = args
		return pgconn.CommandTag{}, nil
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	rec, err := store.Debit(context.Background(), testDebit())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !tx.committed {
		t.Error("expected transaction to be committed")
	}
	if tx.rolledBack {
		t.Error("transaction should not have been rolled back")
	}

	// balance_after = balance_before - cost, decimal-exact
	want := dec("99.9984")
	if !rec.BalanceAfter.Equal(want) {
		t.Errorf("BalanceAfter = %s, want %s", rec.BalanceAfter, want)
	}
	if len(updateArgs) != 2 {
		t.Fatalf("unexpected UPDATE args: %v", updateArgs)
	}
	if got := updateArgs[0].(decimal.Decimal); !got.Equal(want) {
		t.Errorf("persisted balance = %s, want %s", got, want)
	}
	if updateArgs[1] != "user-1" {
		t.Errorf("persisted user id = %v, want user-1", updateArgs[1])
	}
	if rec.ID != 7 {
		t.Errorf("record id = %d, want 7", rec.ID)
	}
	if rec.Nickname != "Alice" || rec.Model != "gpt-4" {
		t.Errorf("unexpected record snapshot: %+v", rec)
	}
}

func TestDebit_UserNotFound(t *testing.T) {
	execCalled := false

	tx := &fakeTx{}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	}
	tx.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		execCalled = true
		return pgconn.CommandTag{}, nil
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	rec, err := store.Debit(context.Background(), testDebit())

	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
	if execCalled {
		t.Error("no balance update may happen for a missing user")
	}
	if !tx.rolledBack {
		t.Error("expected transaction to be rolled back")
	}
	if tx.committed {
		t.Error("transaction must not commit")
	}
}

func TestDebit_InsertFailureRollsBack(t *testing.T) {
	tx := &fakeTx{}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if strings.Contains(sql, "FOR UPDATE") {
			return fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*decimal.Decimal) = dec("100.00")
				return nil
			}}
		}
		return fakeRow{scanFunc: func(dest ...any) error { return errors.New("connection reset") }}
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	rec, err := store.Debit(context.Background(), testDebit())

	if err == nil {
		t.Fatal("expected error")
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
	if !tx.rolledBack {
		t.Error("expected full rollback: the balance update must not survive a failed record insert")
	}
	if tx.committed {
		t.Error("transaction must not commit")
	}
}

func TestDebit_UpdateFailureRollsBack(t *testing.T) {
	tx := &fakeTx{}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeRow{scanFunc: func(dest ...any) error {
			*dest[0].(*decimal.Decimal) = dec("50.00")
			return nil
		}}
	}
	tx.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("serialization conflict")
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	_, err := store.Debit(context.Background(), testDebit())

	if err == nil {
		t.Fatal("expected error")
	}
	if !tx.rolledBack {
		t.Error("expected transaction to be rolled back")
	}
}

func TestDebit_CommitFailureSurfaces(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("connection lost")}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if strings.Contains(sql, "FOR UPDATE") {
			return fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*decimal.Decimal) = dec("10.00")
				return nil
			}}
		}
		return fakeRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int64) = 1
			*dest[1].(*time.Time) = time.Now()
			return nil
		}}
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	rec, err := store.Debit(context.Background(), testDebit())

	if err == nil {
		t.Fatal("expected commit error to surface")
	}
	if rec != nil {
		t.Error("a failed commit must not report a record to the caller")
	}
}

func TestDebit_BalanceMayGoNegative(t *testing.T) {
	var persisted decimal.Decimal

	tx := &fakeTx{}
	tx.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if strings.Contains(sql, "FOR UPDATE") {
			return fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*decimal.Decimal) = dec("0.0005")
				return nil
			}}
		}
		return fakeRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int64) = 2
			*dest[1].(*time.Time) = time.Now()
			return nil
		}}
	}
	tx.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		persisted = args[0].(decimal.Decimal)
		return pgconn.CommandTag{}, nil
	}

	store := NewPostgresStore(&fakeDB{tx: tx})
	rec, err := store.Debit(context.Background(), testDebit())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := dec("-0.0011")
	if !rec.BalanceAfter.Equal(want) {
		t.Errorf("BalanceAfter = %s, want %s", rec.BalanceAfter, want)
	}
	if !persisted.Equal(want) {
		t.Errorf("persisted balance = %s, want %s", persisted, want)
	}
}
