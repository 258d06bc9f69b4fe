package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/finsight-ai/finsight/internal/agent/core"
)

func TestAppendThreadMessages(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	msgs := []core.ChatMessage{
		{Role: core.RoleUser, Content: "hello"},
		{Role: core.RoleAssistant, Content: "hi there"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) FROM thread_messages WHERE thread_id=$1`)).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	insert := regexp.QuoteMeta(`INSERT INTO thread_messages (thread_id, seq, payload) VALUES ($1,$2,$3)`)
	mock.ExpectExec(insert).WithArgs("thread-1", int64(4), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("thread-1", int64(5), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.AppendThreadMessages(context.Background(), "thread-1", msgs); err != nil {
		t.Fatalf("AppendThreadMessages: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListThreadMessagesRoundTripsToolCalls(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	payload := []byte(`{"role":"assistant","content":"","tool_calls":[{"id":"call-1","type":"function","function":{"name":"buy_stock","arguments":"{\"symbol\":\"AAPL\"}"}}]}`)
	rows := sqlmock.NewRows([]string{"payload"}).AddRow(payload)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload FROM thread_messages WHERE thread_id=$1 ORDER BY seq ASC`)).
		WithArgs("thread-1").
		WillReturnRows(rows)

	msgs, err := st.ListThreadMessages(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("ListThreadMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "buy_stock" {
		t.Fatalf("tool calls not preserved: %+v", msgs[0])
	}
}

func TestRewindThread(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, message_count FROM thread_checkpoints
WHERE thread_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`)).
		WithArgs("thread-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_count"}).
			AddRow("cp-3", int64(9)).
			AddRow("cp-2", int64(6)))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM thread_checkpoints WHERE id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM thread_messages WHERE thread_id=$1 AND seq > $2`)).
		WithArgs("thread-1", int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM pending_actions WHERE thread_id=$1`)).
		WithArgs("thread-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	id, err := st.RewindThread(context.Background(), "thread-1", 1)
	if err != nil {
		t.Fatalf("RewindThread: %v", err)
	}
	if id != "cp-2" {
		t.Fatalf("expected restored checkpoint cp-2, got %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRewindThreadTooFar(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, message_count FROM thread_checkpoints
WHERE thread_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`)).
		WithArgs("thread-1", 6).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_count"}).
			AddRow("cp-2", int64(6)).
			AddRow("cp-1", int64(3)))
	mock.ExpectRollback()

	if _, err := st.RewindThread(context.Background(), "thread-1", 5); err == nil {
		t.Fatal("expected error when rewinding past the oldest checkpoint")
	}
}

func TestPendingActionRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	created := time.Now().UTC()
	pa := core.PendingAction{
		ThreadID:   "thread-1",
		ToolName:   "buy_stock",
		ToolArgs:   map[string]interface{}{"symbol": "AAPL", "quantity": float64(5)},
		ToolCallID: "call-1",
		CreatedAt:  created,
	}

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO pending_actions (thread_id, tool_name, tool_args, tool_call_id, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (thread_id) DO UPDATE SET
  tool_name = EXCLUDED.tool_name,
  tool_args = EXCLUDED.tool_args,
  tool_call_id = EXCLUDED.tool_call_id,
  created_at = EXCLUDED.created_at
`)).
		WithArgs("thread-1", "buy_stock", sqlmock.AnyArg(), "call-1", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SavePendingAction(context.Background(), pa); err != nil {
		t.Fatalf("SavePendingAction: %v", err)
	}

	rows := sqlmock.NewRows([]string{"thread_id", "tool_name", "tool_args", "tool_call_id", "created_at"}).
		AddRow("thread-1", "buy_stock", []byte(`{"symbol":"AAPL","quantity":5}`), "call-1", created)
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT thread_id, tool_name, tool_args, tool_call_id, created_at
FROM pending_actions WHERE thread_id=$1
`)).
		WithArgs("thread-1").
		WillReturnRows(rows)

	got, ok, err := st.GetPendingAction(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	if !ok {
		t.Fatal("expected a pending action")
	}
	if got.ToolName != "buy_stock" || got.ToolCallID != "call-1" {
		t.Fatalf("unexpected pending action: %+v", got)
	}
	if got.ToolArgs["symbol"] != "AAPL" {
		t.Fatalf("tool args not preserved: %+v", got.ToolArgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetPendingActionMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT thread_id, tool_name, tool_args, tool_call_id, created_at
FROM pending_actions WHERE thread_id=$1
`)).
		WithArgs("thread-9").
		WillReturnRows(sqlmock.NewRows([]string{"thread_id", "tool_name", "tool_args", "tool_call_id", "created_at"}))

	_, ok, err := st.GetPendingAction(context.Background(), "thread-9")
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	if ok {
		t.Fatal("expected no pending action")
	}
}
