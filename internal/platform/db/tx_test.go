package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	calls int
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.calls++
	return b.tx, nil
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestRunInTx_Commits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	var seen pgx.Tx
	err := RunInTx(context.Background(), b, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil {
		t.Fatal("expected tx on context inside fn")
	}
	if !b.tx.committed {
		t.Error("expected commit")
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	want := errors.New("boom")
	err := RunInTx(context.Background(), b, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if b.tx.committed {
		t.Error("did not expect commit")
	}
	if !b.tx.rolledBack {
		t.Error("expected rollback")
	}
}

func TestRunInTx_JoinsOuterTx(t *testing.T) {
	outer := &fakeTx{}
	b := &fakeBeginner{tx: &fakeTx{}}
	ctx := ContextWithTx(context.Background(), outer)
	err := RunInTx(ctx, b, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer {
			t.Error("expected outer tx to be reused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 0 {
		t.Errorf("expected no new transaction, got %d", b.calls)
	}
}

func TestRunInTx_NilBeginner(t *testing.T) {
	if err := RunInTx(context.Background(), nil, func(context.Context) error { return nil }); err == nil {
		t.Error("expected error with no beginner")
	}
}

func TestLockKey(t *testing.T) {
	if got := LockKey("rule", "a", "b"); got != "rule:a:b" {
		t.Errorf("LockKey = %q, want %q", got, "rule:a:b")
	}
}
