package toolcfg

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Wire-level tool document types, values of the "type" field.
const (
	DocTypeWebhook = "webhook"
	DocTypeSystem  = "system"
)

// ErrToolNotFound is returned by Gateway.GetTool for a missing tool id.
var ErrToolNotFound = errors.New("toolcfg: tool not found")

// ToolDocument is the normalized registry entry for a persisted tool.
type ToolDocument struct {
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	Type                string      `json:"type"`
	ResponseTimeoutSecs int         `json:"response_timeout_secs"`
	APISchema           *APISchema  `json:"api_schema,omitempty"`
	Params              *ToolParams `json:"params,omitempty"`
}

// APISchema describes the HTTP call the runtime makes when the tool fires.
type APISchema struct {
	URL               string         `json:"url"`
	Method            string         `json:"method"`
	RequestBodySchema *RequestSchema `json:"request_body_schema,omitempty"`
}

// ToolParams carries system-tool parameters.
type ToolParams struct {
	SystemToolType string         `json:"system_tool_type"`
	Transfers      []TransferRule `json:"transfers,omitempty"`
}

// TransferRule routes a transfer built-in to a phone number or another agent.
type TransferRule struct {
	Condition   string `json:"condition"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
}

// BuiltInTool is a system tool stored inline on the agent record, keyed by
// its system type.
type BuiltInTool struct {
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	Type                string     `json:"type"`
	ResponseTimeoutSecs int        `json:"response_timeout_secs"`
	Params              ToolParams `json:"params"`
}

// AgentToolSet is the tool-reference set an agent record stores: registry ids
// for webhook-backed tools plus inline built-in tools. A logical tool lives in
// exactly one of the two representations.
type AgentToolSet struct {
	ToolIDs      []string                    `json:"tool_ids"`
	BuiltInTools map[SystemType]*BuiltInTool `json:"built_in_tools"`
}

// Clone returns a deep-enough copy so edit sessions never mutate the caller's
// set before a successful save.
func (ts AgentToolSet) Clone() AgentToolSet {
	out := AgentToolSet{
		ToolIDs: slices.Clone(ts.ToolIDs),
	}
	if ts.BuiltInTools != nil {
		out.BuiltInTools = make(map[SystemType]*BuiltInTool, len(ts.BuiltInTools))
		for st, bt := range ts.BuiltInTools {
			if bt == nil {
				out.BuiltInTools[st] = nil
				continue
			}
			cloned := *bt
			cloned.Params.Transfers = slices.Clone(bt.Params.Transfers)
			out.BuiltInTools[st] = &cloned
		}
	}
	return out
}

// AttachTool appends a registry id, keeping ToolIDs duplicate-free.
func (ts *AgentToolSet) AttachTool(id string) {
	if id == "" || slices.Contains(ts.ToolIDs, id) {
		return
	}
	ts.ToolIDs = append(ts.ToolIDs, id)
}

// DetachTool removes a registry id from the set.
func (ts *AgentToolSet) DetachTool(id string) {
	ts.ToolIDs = slices.DeleteFunc(ts.ToolIDs, func(s string) bool {
		return s == id
	})
}

// SetBuiltIn stores a built-in tool under its system type key.
func (ts *AgentToolSet) SetBuiltIn(st SystemType, bt *BuiltInTool) {
	if ts.BuiltInTools == nil {
		ts.BuiltInTools = make(map[SystemType]*BuiltInTool)
	}
	ts.BuiltInTools[st] = bt
}

// RemoveBuiltIn nulls the entry for a system type; the key stays present so
// the backing document records the removal.
func (ts *AgentToolSet) RemoveBuiltIn(st SystemType) {
	if ts.BuiltInTools == nil {
		return
	}
	if _, ok := ts.BuiltInTools[st]; ok {
		ts.BuiltInTools[st] = nil
	}
}

// HasTool reports whether the set references id.
func (ts AgentToolSet) HasTool(id string) bool {
	return slices.Contains(ts.ToolIDs, id)
}

// HasBuiltIn reports whether a non-null built-in entry exists for st.
func (ts AgentToolSet) HasBuiltIn(st SystemType) bool {
	bt, ok := ts.BuiltInTools[st]
	return ok && bt != nil
}

// ToolSummary is a registry listing entry.
type ToolSummary struct {
	ToolID    string    `json:"tool_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolPatch is a partial tool document for registry patch calls. Nil fields
// are left untouched server-side.
type ToolPatch struct {
	Name                *string     `json:"name,omitempty"`
	Description         *string     `json:"description,omitempty"`
	ResponseTimeoutSecs *int        `json:"response_timeout_secs,omitempty"`
	APISchema           *APISchema  `json:"api_schema,omitempty"`
	Params              *ToolParams `json:"params,omitempty"`
}

// Gateway is the contract to the external tool registry. Implementations
// authenticate every call with a freshly obtained bearer token.
type Gateway interface {
	ListTools(ctx context.Context, userID string) ([]ToolSummary, error)
	GetTool(ctx context.Context, userID, toolID string) (ToolDocument, error)
	CreateTool(ctx context.Context, userID string, doc ToolDocument) (string, error)
	PatchTool(ctx context.Context, userID, toolID string, patch ToolPatch) error
}

// TokenSource supplies bearer tokens for registry calls. The engine never
// caches tokens; a fresh one is requested immediately before each call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
