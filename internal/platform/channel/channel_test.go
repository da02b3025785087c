package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type recordingChannel struct {
	name string
	sent []Message
	err  error
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func testMessage() Message {
	return Message{
		AlertID:     uuid.New(),
		PatientID:   uuid.New(),
		RecipientID: uuid.New(),
		Origin:      "rule",
		Level:       "high",
		Title:       "low mood",
		Body:        "Rule low mood matched",
	}
}

func TestRegistry(t *testing.T) {
	a := &recordingChannel{name: "a"}
	b := &recordingChannel{name: "b"}
	r := NewRegistry(b, a)

	if got := strings.Join(r.Names(), ","); got != "a,b" {
		t.Errorf("expected sorted names a,b, got %s", got)
	}
	if err := r.Send(context.Background(), "a", testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.sent) != 1 || len(b.sent) != 0 {
		t.Errorf("message routed to the wrong channel: a=%d b=%d", len(a.sent), len(b.sent))
	}
	err := r.Send(context.Background(), "sms", testMessage())
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestSubjectLine(t *testing.T) {
	msg := testMessage()
	if got := subjectLine(msg); got != "[HIGH] low mood" {
		t.Errorf("unexpected subject %q", got)
	}
	msg.Level = ""
	if got := subjectLine(msg); got != "[ALERT] low mood" {
		t.Errorf("unexpected subject %q", got)
	}
}

type fakeExecer struct {
	sql  string
	args []interface{}
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestInAppChannel(t *testing.T) {
	fe := &fakeExecer{}
	ch := &InAppChannel{db: fe}
	msg := testMessage()
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fe.sql, "professional_inbox") || !strings.Contains(fe.sql, "ON CONFLICT") {
		t.Errorf("unexpected sql: %s", fe.sql)
	}
	if fe.args[1] != msg.RecipientID || fe.args[2] != msg.AlertID {
		t.Errorf("unexpected args: %v", fe.args)
	}

	fe.err = errors.New("connection reset")
	if err := ch.Send(context.Background(), msg); err == nil {
		t.Error("expected insert error to propagate")
	}
}
