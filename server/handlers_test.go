package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// memGateway is an in-memory registry for handler tests.
type memGateway struct {
	docs   map[string]toolcfg.ToolDocument
	nextID int
}

func newMemGateway() *memGateway {
	return &memGateway{docs: make(map[string]toolcfg.ToolDocument)}
}

func (g *memGateway) ListTools(_ context.Context, _ string) ([]toolcfg.ToolSummary, error) {
	out := make([]toolcfg.ToolSummary, 0, len(g.docs))
	for id := range g.docs {
		out = append(out, toolcfg.ToolSummary{ToolID: id})
	}
	return out, nil
}

func (g *memGateway) GetTool(_ context.Context, _, toolID string) (toolcfg.ToolDocument, error) {
	doc, ok := g.docs[toolID]
	if !ok {
		return toolcfg.ToolDocument{}, toolcfg.ErrToolNotFound
	}
	return doc, nil
}

func (g *memGateway) CreateTool(_ context.Context, _ string, doc toolcfg.ToolDocument) (string, error) {
	g.nextID++
	id := fmt.Sprintf("tool-%d", g.nextID)
	g.docs[id] = doc
	return id, nil
}

func (g *memGateway) PatchTool(_ context.Context, _, toolID string, _ toolcfg.ToolPatch) error {
	if _, ok := g.docs[toolID]; !ok {
		return toolcfg.ErrToolNotFound
	}
	return nil
}

type recordingObserver struct {
	kinds  []toolcfg.Kind
	errors []error
}

func (o *recordingObserver) ObserveSave(kind toolcfg.Kind, err error) {
	o.kinds = append(o.kinds, kind)
	o.errors = append(o.errors, err)
}

type consoleHarness struct {
	t        *testing.T
	server   *httptest.Server
	store    *MemStore
	gateway  *memGateway
	observer *recordingObserver
}

func newConsoleHarness(t *testing.T) *consoleHarness {
	t.Helper()
	store := NewMemStore()
	gateway := newMemGateway()
	observer := &recordingObserver{}
	console := NewServer(ServerConfig{
		Store:          store,
		Gateway:        gateway,
		WebhookBaseURL: "https://hooks.example.com",
		SaveObserver:   observer,
	})
	server := httptest.NewServer(console.Handler())
	t.Cleanup(server.Close)
	return &consoleHarness{t: t, server: server, store: store, gateway: gateway, observer: observer}
}

func (h *consoleHarness) request(method, path string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		h.t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (h *consoleHarness) decode(data []byte, out any) {
	h.t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		h.t.Fatalf("decode %s: %v", data, err)
	}
}

func (h *consoleHarness) createAgent() AgentRecord {
	h.t.Helper()
	resp, body := h.request(http.MethodPost, "/api/agents", map[string]any{
		"user_id": "user-1",
		"name":    "Receptionist",
		"llm":     "gpt-4o",
	})
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("create agent status = %d: %s", resp.StatusCode, body)
	}
	var rec AgentRecord
	h.decode(body, &rec)
	return rec
}

type errEnvelope struct {
	Error struct {
		Code        string               `json:"code"`
		Message     string               `json:"message"`
		Diagnostics []toolcfg.Diagnostic `json:"diagnostics"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	h := newConsoleHarness(t)
	resp, _ := h.request(http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAgentCRUD(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()
	if rec.ID == "" || rec.UserID != "user-1" {
		t.Fatalf("record = %+v", rec)
	}

	resp, body := h.request(http.MethodGet, "/api/agents", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var records []AgentRecord
	h.decode(body, &records)
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}

	resp, body = h.request(http.MethodPut, "/api/agents/"+rec.ID, map[string]any{"name": "Dispatcher"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	var updated AgentRecord
	h.decode(body, &updated)
	if updated.Name != "Dispatcher" {
		t.Fatalf("name = %q", updated.Name)
	}

	resp, _ = h.request(http.MethodDelete, "/api/agents/"+rec.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = h.request(http.MethodGet, "/api/agents/"+rec.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", resp.StatusCode)
	}
}

func TestCreateAgentRequiresNameAndUser(t *testing.T) {
	h := newConsoleHarness(t)
	resp, body := h.request(http.MethodPost, "/api/agents", map[string]any{"name": "NoUser"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestWebhookSessionFlow(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	resp, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session status = %d: %s", resp.StatusCode, body)
	}
	var view sessionView
	h.decode(body, &view)
	if view.State != toolcfg.StateSelectingVariant {
		t.Fatalf("state = %s", view.State)
	}

	resp, body = h.request(http.MethodPost, "/api/sessions/"+view.ID+"/variant", map[string]any{"kind": "webhook"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select variant status = %d: %s", resp.StatusCode, body)
	}
	h.decode(body, &view)
	if view.State != toolcfg.StateEditingNew || view.CanSave {
		t.Fatalf("view = %+v", view)
	}

	resp, body = h.request(http.MethodPut, "/api/sessions/"+view.ID+"/fields", map[string]any{
		"name":        "check_order",
		"description": "Checks order status",
		"url":         "https://example.com/hook",
		"schema_json": `{"type":"object","properties":{"order_id":{"type":"string","description":"Order id"}}}`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update fields status = %d: %s", resp.StatusCode, body)
	}
	h.decode(body, &view)
	if !view.CanSave {
		t.Fatalf("CanSave still false: %+v", view.Diagnostics)
	}

	resp, body = h.request(http.MethodPost, "/api/sessions/"+view.ID+"/save", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d: %s", resp.StatusCode, body)
	}
	var toolSet toolcfg.AgentToolSet
	h.decode(body, &toolSet)
	if len(toolSet.ToolIDs) != 1 {
		t.Fatalf("tool set = %+v", toolSet)
	}

	// The save persisted onto the agent record.
	stored, _, _ := h.store.Get(context.Background(), rec.ID)
	if !stored.Tools.HasTool(toolSet.ToolIDs[0]) {
		t.Fatalf("agent record not updated: %+v", stored.Tools)
	}

	// The session is released after a successful save.
	resp, _ = h.request(http.MethodGet, "/api/sessions/"+view.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("saved session status = %d", resp.StatusCode)
	}

	if len(h.observer.kinds) != 1 || h.observer.kinds[0] != toolcfg.KindWebhook || h.observer.errors[0] != nil {
		t.Fatalf("observer = %+v", h.observer)
	}
}

func TestSaveValidationFailureReturns422(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	_, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", nil)
	var view sessionView
	h.decode(body, &view)

	h.request(http.MethodPost, "/api/sessions/"+view.ID+"/variant", map[string]any{"kind": "webhook"})
	h.request(http.MethodPut, "/api/sessions/"+view.ID+"/fields", map[string]any{"name": "end_call"})

	resp, body := h.request(http.MethodPost, "/api/sessions/"+view.ID+"/save", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var envelope errEnvelope
	h.decode(body, &envelope)
	if envelope.Error.Code != toolcfg.CodeValidationFailed {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if len(envelope.Error.Diagnostics) == 0 {
		t.Fatal("no diagnostics in envelope")
	}

	// The session survives the failed save for correction.
	resp, body = h.request(http.MethodGet, "/api/sessions/"+view.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session gone after failed save: %d", resp.StatusCode)
	}
	h.decode(body, &view)
	if view.State != toolcfg.StateEditingNew {
		t.Fatalf("state = %s", view.State)
	}
}

// faultyStore injects a failure into Update to exercise the post-registry
// store error path.
type faultyStore struct {
	*MemStore
	updateErr error
}

func (s *faultyStore) Update(ctx context.Context, rec AgentRecord) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemStore.Update(ctx, rec)
}

func TestSaveStoreFailureKeepsToolSet(t *testing.T) {
	store := &faultyStore{MemStore: NewMemStore()}
	gateway := newMemGateway()
	console := NewServer(ServerConfig{
		Store:          store,
		Gateway:        gateway,
		WebhookBaseURL: "https://hooks.example.com",
	})
	srv := httptest.NewServer(console.Handler())
	t.Cleanup(srv.Close)
	h := &consoleHarness{t: t, server: srv, store: store.MemStore, gateway: gateway}

	rec := h.createAgent()
	_, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", nil)
	var view sessionView
	h.decode(body, &view)
	h.request(http.MethodPost, "/api/sessions/"+view.ID+"/variant", map[string]any{"kind": "webhook"})
	h.request(http.MethodPut, "/api/sessions/"+view.ID+"/fields", map[string]any{
		"name":        "check_order",
		"description": "Checks order status",
		"url":         "https://example.com/hook",
	})

	store.updateErr = fmt.Errorf("disk full")
	resp, body := h.request(http.MethodPost, "/api/sessions/"+view.ID+"/save", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	// The registry write succeeded, so the new tool id must survive in the
	// error body even though the agent record could not be updated.
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Tools toolcfg.AgentToolSet `json:"tools"`
	}
	h.decode(body, &payload)
	if payload.Error.Code != "STORE_ERROR" {
		t.Fatalf("code = %q", payload.Error.Code)
	}
	if len(payload.Tools.ToolIDs) != 1 {
		t.Fatalf("tool set = %+v", payload.Tools)
	}
	if _, ok := gateway.docs[payload.Tools.ToolIDs[0]]; !ok {
		t.Fatalf("tool id %q not in registry", payload.Tools.ToolIDs[0])
	}
}

func TestBuiltInSessionFlow(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	_, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", map[string]any{"system_type": "end_call"})
	var view sessionView
	h.decode(body, &view)
	if view.State != toolcfg.StateEditingBuiltIn {
		t.Fatalf("state = %s", view.State)
	}
	if view.Variant.Description != "Ends the current call" {
		t.Fatalf("description = %q", view.Variant.Description)
	}

	resp, body := h.request(http.MethodPost, "/api/sessions/"+view.ID+"/save", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d: %s", resp.StatusCode, body)
	}

	stored, _, _ := h.store.Get(context.Background(), rec.ID)
	if !stored.Tools.HasBuiltIn(toolcfg.SystemEndCall) {
		t.Fatalf("built-in not stored: %+v", stored.Tools)
	}

	// The configured type no longer appears in the options.
	_, body = h.request(http.MethodGet, "/api/agents/"+rec.ID+"/tool-options", nil)
	var options toolOptionsResponse
	h.decode(body, &options)
	for _, st := range options.SystemTypes {
		if st == toolcfg.SystemEndCall {
			t.Fatal("configured built-in still offered")
		}
	}

	// Remove it again.
	resp, _ = h.request(http.MethodDelete, "/api/agents/"+rec.ID+"/built-ins/end_call", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove built-in status = %d", resp.StatusCode)
	}
	stored, _, _ = h.store.Get(context.Background(), rec.ID)
	if stored.Tools.HasBuiltIn(toolcfg.SystemEndCall) {
		t.Fatal("built-in survived removal")
	}
}

func TestOpenSessionForExistingTool(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()
	h.gateway.docs["tool-7"] = toolcfg.ToolDocument{
		Name:                "check_order",
		Description:         "Checks order status",
		Type:                toolcfg.DocTypeWebhook,
		ResponseTimeoutSecs: 30,
		APISchema:           &toolcfg.APISchema{URL: "https://example.com/hook", Method: "POST"},
	}

	_, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", map[string]any{"tool_id": "tool-7"})
	var view sessionView
	h.decode(body, &view)
	if view.State != toolcfg.StateEditingExistingWebhook {
		t.Fatalf("state = %s", view.State)
	}
	if view.Variant.Name != "check_order" || view.Variant.URL != "https://example.com/hook" {
		t.Fatalf("variant = %+v", view.Variant)
	}
}

func TestOpenSessionFetchFailureKeepsSession(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	resp, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", map[string]any{"tool_id": "missing"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var view sessionView
	h.decode(body, &view)
	if view.State != toolcfg.StateSelectingVariant {
		t.Fatalf("state = %s", view.State)
	}
	if view.Error == "" {
		t.Fatal("fetch error not surfaced")
	}
}

func TestDetachTool(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	rec.Tools.AttachTool("tool-3")
	if err := h.store.Update(context.Background(), rec); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	resp, _ := h.request(http.MethodDelete, "/api/agents/"+rec.ID+"/tools/tool-3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detach status = %d", resp.StatusCode)
	}
	stored, _, _ := h.store.Get(context.Background(), rec.ID)
	if stored.Tools.HasTool("tool-3") {
		t.Fatal("tool survived detach")
	}

	resp, _ = h.request(http.MethodDelete, "/api/agents/"+rec.ID+"/tools/tool-3", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second detach status = %d", resp.StatusCode)
	}
}

func TestToolOptionsFiltersAttached(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()
	h.gateway.docs["tool-a"] = toolcfg.ToolDocument{Name: "a"}
	h.gateway.docs["tool-b"] = toolcfg.ToolDocument{Name: "b"}

	rec.Tools.AttachTool("tool-a")
	if err := h.store.Update(context.Background(), rec); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	_, body := h.request(http.MethodGet, "/api/agents/"+rec.ID+"/tool-options", nil)
	var options toolOptionsResponse
	h.decode(body, &options)
	if len(options.Reusable) != 1 || options.Reusable[0].ToolID != "tool-b" {
		t.Fatalf("reusable = %+v", options.Reusable)
	}
	if len(options.Variants) != 4 {
		t.Fatalf("variants = %+v", options.Variants)
	}
}

func TestToolOptionsOmitsAttachedBooking(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()
	h.gateway.docs["tool-ghl"] = toolcfg.ToolDocument{Name: "GHL_BOOKING", Type: toolcfg.DocTypeWebhook}

	rec.Tools.AttachTool("tool-ghl")
	if err := h.store.Update(context.Background(), rec); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	_, body := h.request(http.MethodGet, "/api/agents/"+rec.ID+"/tool-options", nil)
	var options toolOptionsResponse
	h.decode(body, &options)
	for _, kind := range options.Variants {
		if kind == toolcfg.KindGhlBooking {
			t.Fatal("attached booking variant still offered")
		}
	}
	hasCalCom := false
	for _, kind := range options.Variants {
		if kind == toolcfg.KindCalCom {
			hasCalCom = true
		}
	}
	if !hasCalCom {
		t.Fatalf("calcom variant missing: %+v", options.Variants)
	}
}

func TestSampleSchema(t *testing.T) {
	h := newConsoleHarness(t)
	resp, body := h.request(http.MethodGet, "/api/sample-schema", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var schema toolcfg.RequestSchema
	h.decode(body, &schema)
	if schema.Properties["new_time"] == nil {
		t.Fatalf("schema = %+v", schema)
	}
}

func TestCloseSession(t *testing.T) {
	h := newConsoleHarness(t)
	rec := h.createAgent()

	_, body := h.request(http.MethodPost, "/api/agents/"+rec.ID+"/sessions", nil)
	var view sessionView
	h.decode(body, &view)

	resp, _ := h.request(http.MethodDelete, "/api/sessions/"+view.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d", resp.StatusCode)
	}
	resp, _ = h.request(http.MethodGet, "/api/sessions/"+view.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("closed session status = %d", resp.StatusCode)
	}
}
