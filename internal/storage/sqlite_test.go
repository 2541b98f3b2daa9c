package storage

import (
	"path/filepath"
	"testing"

	"tino/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_SessionCRUD(t *testing.T) {
	store := newTestStore(t)

	meta := SessionMeta{
		ID:    "sess_test_001",
		Title: "momentum research",
		CWD:   "/tmp",
	}

	// Create
	if err := store.CreateSession(meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Load
	loaded, err := store.LoadSession("sess_test_001")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Title != "momentum research" {
		t.Fatalf("Title=%q, want %q", loaded.Title, "momentum research")
	}
	if loaded.Status != "idle" {
		t.Fatalf("Status=%q, want default idle", loaded.Status)
	}

	// Update
	meta.Title = "updated title"
	meta.Status = "running"
	if err := store.SaveSession(meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	loaded2, _ := store.LoadSession("sess_test_001")
	if loaded2.Title != "updated title" || loaded2.Status != "running" {
		t.Fatalf("after update: %+v", loaded2)
	}

	// List
	metas, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("ListSessions count=%d, want 1", len(metas))
	}
}

func TestSQLiteStore_Messages(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateSession(SessionMeta{ID: "sess_msg_001"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	messages := []chat.Message{
		{Role: "user", Content: "backtest the momentum strategy"},
		{Role: "assistant", Content: "", ToolCalls: []chat.ToolCall{
			{ID: "call_1", Type: "function", Function: chat.ToolCallFunction{Name: "backtest_run", Arguments: `{"strategy":"momentum"}`}},
		}},
		{Role: "tool", Name: "backtest_run", ToolCallID: "call_1", Content: `{"ok":true}`},
		{Role: "assistant", Content: "sharpe 1.8 over the sample period"},
	}

	if err := store.SaveMessages("sess_msg_001", messages); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	loaded, err := store.LoadMessages("sess_msg_001")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("LoadMessages count=%d, want 4", len(loaded))
	}
	if loaded[0].Role != "user" || loaded[0].Content != "backtest the momentum strategy" {
		t.Fatalf("msg[0] unexpected: %+v", loaded[0])
	}
	if len(loaded[1].ToolCalls) != 1 || loaded[1].ToolCalls[0].Function.Name != "backtest_run" {
		t.Fatalf("msg[1] tool_calls unexpected: %+v", loaded[1])
	}
	if loaded[2].ToolCallID != "call_1" {
		t.Fatalf("msg[2].ToolCallID=%q, want %q", loaded[2].ToolCallID, "call_1")
	}

	// 覆盖保存 / Overwrite save
	messages2 := []chat.Message{{Role: "user", Content: "only one"}}
	if err := store.SaveMessages("sess_msg_001", messages2); err != nil {
		t.Fatalf("SaveMessages overwrite: %v", err)
	}
	loaded2, _ := store.LoadMessages("sess_msg_001")
	if len(loaded2) != 1 {
		t.Fatalf("overwrite count=%d, want 1", len(loaded2))
	}
}

func TestSQLiteStore_AuditLogs(t *testing.T) {
	store := newTestStore(t)

	_ = store.CreateSession(SessionMeta{ID: "sess_audit_001"})

	err := store.LogPermission(PermissionEntry{
		SessionID: "sess_audit_001",
		Tool:      "trading_live_order",
		Resource:  "BTC-USD",
		Decision:  "ask",
		Reason:    "matched rule trading_live*",
	})
	if err != nil {
		t.Fatalf("LogPermission: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := store.LogToolRun(ToolRunEntry{
			SessionID:  "sess_audit_001",
			Tool:       "market_data",
			Resource:   "ETH-USD",
			Result:     "ohlcv rows",
			DurationMS: int64(10 + i),
		})
		if err != nil {
			t.Fatalf("LogToolRun: %v", err)
		}
	}

	runs, err := store.ListToolRuns("sess_audit_001", 2)
	if err != nil {
		t.Fatalf("ListToolRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListToolRuns count=%d, want limit 2", len(runs))
	}
	// newest first
	if runs[0].DurationMS != 12 {
		t.Fatalf("runs[0].DurationMS=%d, want newest first", runs[0].DurationMS)
	}
}

func TestSQLiteStore_TaskHistory(t *testing.T) {
	store := newTestStore(t)

	_ = store.CreateSession(SessionMeta{ID: "sess_task_001"})

	rec := TaskRecord{
		SessionID:   "sess_task_001",
		TaskID:      "task_abc",
		Description: "backtest momentum",
		Status:      "running",
	}
	if err := store.SaveTaskRecord(rec); err != nil {
		t.Fatalf("SaveTaskRecord: %v", err)
	}

	// 终态覆盖中间态 / Final state overwrites the intermediate one
	rec.Status = "completed"
	rec.Output = "sharpe 1.8"
	if err := store.SaveTaskRecord(rec); err != nil {
		t.Fatalf("SaveTaskRecord upsert: %v", err)
	}

	recs, err := store.ListTaskRecords("sess_task_001")
	if err != nil {
		t.Fatalf("ListTaskRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListTaskRecords count=%d, want 1", len(recs))
	}
	if recs[0].Status != "completed" || recs[0].Output != "sharpe 1.8" {
		t.Fatalf("record unexpected: %+v", recs[0])
	}
}

func TestSQLiteStore_LoadNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadSession("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent session")
	}
}
