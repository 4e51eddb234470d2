package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

func testRecord(id string, created time.Time) AgentRecord {
	return AgentRecord{
		ID:     id,
		UserID: "user-1",
		Name:   "Receptionist",
		Tools: toolcfg.AgentToolSet{
			ToolIDs:      []string{},
			BuiltInTools: map[toolcfg.SystemType]*toolcfg.BuiltInTool{},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func runStoreSuite(t *testing.T, store AgentStore) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, testRecord("agent-b", base.Add(time.Hour))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, testRecord("agent-a", base)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, testRecord("agent-a", base)); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("duplicate Create err = %v, want ErrAgentExists", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].ID != "agent-a" || records[1].ID != "agent-b" {
		t.Fatalf("List order = %+v", records)
	}

	rec, found, err := store.Get(ctx, "agent-a")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if rec.Name != "Receptionist" {
		t.Fatalf("Get name = %q", rec.Name)
	}

	rec.Name = "Dispatcher"
	rec.Tools.AttachTool("tool-1")
	rec.UpdatedAt = base.Add(2 * time.Hour)
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _, _ = store.Get(ctx, "agent-a")
	if rec.Name != "Dispatcher" || !rec.Tools.HasTool("tool-1") {
		t.Fatalf("Update not persisted: %+v", rec)
	}

	if err := store.Update(ctx, testRecord("ghost", base)); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("Update missing err = %v, want ErrAgentNotFound", err)
	}

	if err := store.Delete(ctx, "agent-b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "agent-b"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("Delete missing err = %v, want ErrAgentNotFound", err)
	}
	if _, found, _ := store.Get(ctx, "agent-b"); found {
		t.Fatal("deleted record still present")
	}
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, NewMemStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agents.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	runStoreSuite(t, store)
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatal("blank dsn accepted")
	}
}

func TestSQLiteStoreRoundTripsToolSet(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agents.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	rec := testRecord("agent-1", time.Now().UTC())
	rec.Tools.AttachTool("tool-9")
	rec.Tools.SetBuiltIn(toolcfg.SystemEndCall, &toolcfg.BuiltInTool{
		Name:                "end_call",
		Description:         "Ends the current call",
		Type:                toolcfg.DocTypeSystem,
		ResponseTimeoutSecs: 20,
		Params:              toolcfg.ToolParams{SystemToolType: "end_call"},
	})
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, found, err := store.Get(ctx, "agent-1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !loaded.Tools.HasTool("tool-9") || !loaded.Tools.HasBuiltIn(toolcfg.SystemEndCall) {
		t.Fatalf("tool set lost in round trip: %+v", loaded.Tools)
	}
}
