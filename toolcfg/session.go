package toolcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// State identifies where an edit session is in its lifecycle.
type State string

const (
	StateSelectingVariant       State = "selecting_variant"
	StateEditingNew             State = "editing_new"
	StateEditingExistingWebhook State = "editing_existing_webhook"
	StateEditingBuiltIn         State = "editing_built_in"
	StateEditingGhl             State = "editing_ghl"
	StateEditingCalCom          State = "editing_calcom"
	StateSaving                 State = "saving"
	StateSaved                  State = "saved"
	StateClosed                 State = "closed"
)

// IsEditing reports whether the state accepts field edits.
func (s State) IsEditing() bool {
	switch s {
	case StateEditingNew, StateEditingExistingWebhook, StateEditingBuiltIn,
		StateEditingGhl, StateEditingCalCom:
		return true
	}
	return false
}

// SessionConfig configures a tool configuration session.
type SessionConfig struct {
	UserID  string
	Gateway Gateway
	// ToolSet is the agent's current tool-reference set. The session works on
	// a copy; the caller's set is only replaced via the save result.
	ToolSet        AgentToolSet
	WebhookBaseURL string
	// OnSave, when set, receives the updated tool set after a successful save.
	OnSave func(AgentToolSet)
	Logger *slog.Logger
}

// Session is one modal invocation's worth of edit state. It owns its field
// state and per-tool-id fetch cache; nothing is shared across sessions except
// the registry itself.
type Session struct {
	userID         string
	gateway        Gateway
	toolSet        AgentToolSet
	webhookBaseURL string
	onSave         func(AgentToolSet)
	logger         *slog.Logger

	state   State
	prior   State
	variant Variant
	// toolID is the registry id when editing an existing registry-backed tool;
	// empty for new tools and built-ins.
	toolID string
	// rawSchema is the operator-entered schema text for the webhook variant.
	rawSchema string
	// fetched is the registry document backing the current edit, if any.
	fetched    *ToolDocument
	fetchCache map[string]ToolDocument
	lastErr    error
}

// NewSession opens an edit session in the variant-selection state.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("toolcfg: session requires a gateway")
	}
	if cfg.UserID == "" {
		return nil, errors.New("toolcfg: session requires a user id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		userID:         cfg.UserID,
		gateway:        cfg.Gateway,
		toolSet:        cfg.ToolSet.Clone(),
		webhookBaseURL: cfg.WebhookBaseURL,
		onSave:         cfg.OnSave,
		logger:         logger,
		state:          StateSelectingVariant,
		fetchCache:     make(map[string]ToolDocument),
	}, nil
}

// State returns the current machine state.
func (s *Session) State() State { return s.state }

// Variant returns the active variant's field state.
func (s *Session) Variant() Variant { return s.variant }

// ToolID returns the registry id backing the current edit, if any.
func (s *Session) ToolID() string { return s.toolID }

// RawSchema returns the operator-entered schema text for the webhook variant.
func (s *Session) RawSchema() string { return s.rawSchema }

// Err returns the retained session-level error, if any.
func (s *Session) Err() error { return s.lastErr }

// ToolSet returns a copy of the session's working tool set.
func (s *Session) ToolSet() AgentToolSet { return s.toolSet.Clone() }

// SelectVariant switches the session to editing a new instance of kind.
// All variant-specific field state resets to defaults; a half-typed webhook
// name does not survive a switch to a booking variant. For the system kind
// use SelectSystem, which needs the concrete type.
func (s *Session) SelectVariant(kind Kind) error {
	if s.state == StateSaving || s.state == StateClosed {
		return newConfigError(CodeNotEditing, "session is %s", s.state)
	}
	if kind == KindSystem {
		return newConfigError(CodeInvalidVariant, "system variant requires a system type")
	}
	s.variant = DefaultsFor(kind)
	s.toolID = ""
	s.rawSchema = ""
	s.fetched = nil
	s.lastErr = nil
	switch kind {
	case KindWebhook:
		s.state = StateEditingNew
	case KindGhlBooking:
		s.state = StateEditingGhl
	case KindCalCom:
		s.state = StateEditingCalCom
	default:
		s.state = StateSelectingVariant
		return newConfigError(CodeInvalidVariant, "unknown variant %q", kind)
	}
	return nil
}

// SelectSystem switches to configuring a built-in. When the agent already
// carries a built-in entry for st the form is pre-populated from it;
// otherwise defaults load.
func (s *Session) SelectSystem(st SystemType) error {
	if s.state == StateSaving || s.state == StateClosed {
		return newConfigError(CodeNotEditing, "session is %s", s.state)
	}
	if !IsSystemType(string(st)) {
		return newConfigError(CodeInvalidVariant, "unknown system type %q", st)
	}
	s.toolID = ""
	s.rawSchema = ""
	s.fetched = nil
	s.lastErr = nil
	if existing, ok := s.toolSet.BuiltInTools[st]; ok && existing != nil {
		s.variant = Variant{
			Kind: KindSystem,
			System: SystemConfig{
				Type:        st,
				Description: existing.Description,
				TimeoutSecs: existing.ResponseTimeoutSecs,
				Transfers:   append([]TransferRule(nil), existing.Params.Transfers...),
			},
		}
	} else {
		s.variant = DefaultSystemVariant(st)
	}
	s.state = StateEditingBuiltIn
	return nil
}

// OpenExisting loads a registry-backed tool for editing. The fetch is
// memoized per tool id for the session lifetime; reselecting the same entry
// does not refetch. A NotFound or transport failure is retained as the
// session error and leaves the form unpopulated for manual recovery.
func (s *Session) OpenExisting(ctx context.Context, toolID string) error {
	if s.state == StateSaving || s.state == StateClosed {
		return newConfigError(CodeNotEditing, "session is %s", s.state)
	}
	doc, ok := s.fetchCache[toolID]
	if !ok {
		fetched, err := s.gateway.GetTool(ctx, s.userID, toolID)
		if err != nil {
			s.lastErr = err
			s.state = StateSelectingVariant
			s.logger.Warn("tool fetch failed", "tool_id", toolID, "error", err)
			return err
		}
		s.fetchCache[toolID] = fetched
		doc = fetched
	}
	s.lastErr = nil
	s.reclassify(toolID, doc)
	return nil
}

// reclassify is the FetchCompleted transition: the fetched document's name
// decides which editing state the session lands in. A webhook entry whose
// name matches a booking tool is always edited through the specialized
// booking form, with credentials reverse-extracted from the stored schema.
func (s *Session) reclassify(toolID string, doc ToolDocument) {
	var schema *RequestSchema
	if doc.APISchema != nil {
		schema = doc.APISchema.RequestBodySchema
	}
	copied := doc
	s.fetched = &copied
	s.toolID = toolID
	s.rawSchema = ""

	switch Classify(doc.Name) {
	case KindGhlBooking:
		s.variant = Variant{
			Kind: KindGhlBooking,
			Ghl: GhlConfig{
				APIKey:     ConstantValue(schema, "apiKey"),
				CalendarID: ConstantValue(schema, "calendarId"),
				LocationID: ConstantValue(schema, "locationId"),
			},
		}
		s.state = StateEditingGhl
	case KindCalCom:
		s.variant = Variant{
			Kind:   KindCalCom,
			CalCom: CalComConfig{APIKey: ConstantValue(schema, "apiKey")},
		}
		s.state = StateEditingCalCom
	case KindSystem:
		// A registry entry named after a system type is edited as the inline
		// built-in; saving writes the agent record, not the registry.
		cfg := SystemConfig{
			Type:        SystemType(doc.Name),
			Description: doc.Description,
			TimeoutSecs: doc.ResponseTimeoutSecs,
		}
		if doc.Params != nil {
			cfg.Transfers = append([]TransferRule(nil), doc.Params.Transfers...)
		}
		s.variant = Variant{Kind: KindSystem, System: cfg}
		s.toolID = ""
		s.state = StateEditingBuiltIn
	default:
		cfg := WebhookConfig{
			Name:        doc.Name,
			Description: doc.Description,
			TimeoutSecs: doc.ResponseTimeoutSecs,
		}
		if doc.APISchema != nil {
			cfg.URL = doc.APISchema.URL
			cfg.RequestSchema = schema.Clone()
		}
		if cfg.TimeoutSecs == 0 {
			cfg.TimeoutSecs = DefaultTimeoutSecs
		}
		if schema != nil {
			if text, err := json.MarshalIndent(schema, "", "  "); err == nil {
				s.rawSchema = string(text)
			}
		}
		s.variant = Variant{Kind: KindWebhook, Webhook: cfg}
		s.state = StateEditingExistingWebhook
	}
}

// SetName updates the operator-chosen name. Only the webhook variant has an
// editable name; for fixed-name variants this is a no-op.
func (s *Session) SetName(name string) {
	if s.variant.Kind == KindWebhook && s.state.IsEditing() {
		s.variant.Webhook.Name = name
	}
}

// SetDescription updates the description on webhook and system variants.
func (s *Session) SetDescription(desc string) {
	if !s.state.IsEditing() {
		return
	}
	switch s.variant.Kind {
	case KindWebhook:
		s.variant.Webhook.Description = desc
	case KindSystem:
		s.variant.System.Description = desc
	}
}

// SetTimeout updates the response timeout on webhook and system variants.
func (s *Session) SetTimeout(secs int) {
	if !s.state.IsEditing() {
		return
	}
	switch s.variant.Kind {
	case KindWebhook:
		s.variant.Webhook.TimeoutSecs = secs
	case KindSystem:
		s.variant.System.TimeoutSecs = secs
	}
}

// SetURL updates the webhook endpoint.
func (s *Session) SetURL(u string) {
	if s.variant.Kind == KindWebhook && s.state.IsEditing() {
		s.variant.Webhook.URL = u
	}
}

// SetSchemaJSON replaces the operator-entered schema text. The text is kept
// verbatim even when invalid so the operator's error state is never dropped;
// validation surfaces INVALID_JSON until it parses. Clearing the text also
// clears the parsed schema, so a removed schema cannot outlive its textarea.
func (s *Session) SetSchemaJSON(text string) {
	if s.variant.Kind != KindWebhook || !s.state.IsEditing() {
		return
	}
	s.rawSchema = text
	if strings.TrimSpace(text) == "" {
		s.variant.Webhook.RequestSchema = nil
		return
	}
	if parsed, err := ParseOperatorSchema(text); err == nil {
		s.variant.Webhook.RequestSchema = parsed
	}
}

// SetGhlCredentials updates the GoHighLevel credential triple.
func (s *Session) SetGhlCredentials(apiKey, calendarID, locationID string) {
	if s.variant.Kind == KindGhlBooking && s.state.IsEditing() {
		s.variant.Ghl = GhlConfig{APIKey: apiKey, CalendarID: calendarID, LocationID: locationID}
	}
}

// SetCalComAPIKey updates the Cal.com credential.
func (s *Session) SetCalComAPIKey(apiKey string) {
	if s.variant.Kind == KindCalCom && s.state.IsEditing() {
		s.variant.CalCom.APIKey = apiKey
	}
}

// SetTransfers replaces the transfer rules on a system variant.
func (s *Session) SetTransfers(rules []TransferRule) {
	if s.variant.Kind == KindSystem && s.state.IsEditing() {
		s.variant.System.Transfers = append([]TransferRule(nil), rules...)
	}
}

// Diagnostics recomputes the active variant's validation findings. No result
// is cached; every field change is reflected immediately.
func (s *Session) Diagnostics() []Diagnostic {
	if !s.state.IsEditing() {
		return nil
	}
	return s.variant.Validate(s.rawSchema)
}

// CanSave is the single save-readiness predicate: true iff the session is in
// an editing state and the active variant passes all its validators.
func (s *Session) CanSave() bool {
	return s.state.IsEditing() && !HasErrors(s.Diagnostics())
}

// AvailableTools lists reusable registry entries not yet attached to the
// agent, for the variant-selection list.
func (s *Session) AvailableTools(ctx context.Context) ([]ToolSummary, error) {
	all, err := s.gateway.ListTools(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := make([]ToolSummary, 0, len(all))
	for _, summary := range all {
		if !s.toolSet.HasTool(summary.ToolID) {
			out = append(out, summary)
		}
	}
	return out, nil
}

// Save validates, serializes, and commits the active variant. Built-ins are
// folded into the tool set with no registry call; new registry-backed tools
// are created; existing ones are patched preserving untouched fields. On
// gateway failure the session returns to its prior editing state with the
// error retained and nothing committed. On success the updated tool set is
// returned (and handed to OnSave) and the session is done.
func (s *Session) Save(ctx context.Context) (AgentToolSet, error) {
	if s.state == StateSaving {
		return AgentToolSet{}, newConfigError(CodeSaveInProgress, "a save is already in flight")
	}
	if !s.state.IsEditing() {
		return AgentToolSet{}, newConfigError(CodeNotEditing, "session is %s", s.state)
	}
	if diags := s.Diagnostics(); HasErrors(diags) {
		return AgentToolSet{}, &ConfigError{
			Code:        CodeValidationFailed,
			Message:     "tool configuration failed validation",
			Diagnostics: diags,
		}
	}

	s.prior = s.state
	s.state = StateSaving

	var err error
	switch s.variant.Kind {
	case KindSystem:
		s.saveBuiltIn()
	case KindWebhook, KindGhlBooking, KindCalCom:
		err = s.saveRegistryBacked(ctx)
	default:
		err = newConfigError(CodeInvalidVariant, "unknown variant %q", s.variant.Kind)
	}

	if err != nil {
		s.state = s.prior
		s.lastErr = err
		s.logger.Warn("tool save failed", "kind", string(s.variant.Kind), "error", err)
		return AgentToolSet{}, err
	}

	s.state = StateSaved
	s.lastErr = nil
	result := s.toolSet.Clone()
	if s.onSave != nil {
		s.onSave(result.Clone())
	}
	return result, nil
}

// saveBuiltIn writes the system tool directly into the tool set, keyed by
// its system type.
func (s *Session) saveBuiltIn() {
	cfg := s.variant.System
	params := ToolParams{SystemToolType: string(cfg.Type)}
	if len(cfg.Transfers) > 0 {
		params.Transfers = append([]TransferRule(nil), cfg.Transfers...)
	}
	s.toolSet.SetBuiltIn(cfg.Type, &BuiltInTool{
		Name:                string(cfg.Type),
		Description:         cfg.Description,
		Type:                DocTypeSystem,
		ResponseTimeoutSecs: ClampTimeout(cfg.TimeoutSecs),
		Params:              params,
	})
}

// saveRegistryBacked creates or patches the registry entry for the webhook
// and booking variants.
func (s *Session) saveRegistryBacked(ctx context.Context) error {
	doc := s.buildDocument()
	if s.toolID == "" {
		id, err := s.gateway.CreateTool(ctx, s.userID, doc)
		if err != nil {
			return err
		}
		s.toolSet.AttachTool(id)
		s.fetchCache[id] = doc
		return nil
	}

	patch := ToolPatch{
		Name:                &doc.Name,
		Description:         &doc.Description,
		ResponseTimeoutSecs: &doc.ResponseTimeoutSecs,
		APISchema:           doc.APISchema,
	}
	if err := s.gateway.PatchTool(ctx, s.userID, s.toolID, patch); err != nil {
		return err
	}
	s.toolSet.AttachTool(s.toolID)
	s.fetchCache[s.toolID] = doc
	return nil
}

// buildDocument produces the normalized wire document for the active
// registry-backed variant. Booking credentials are merged into the fetched
// schema when one exists so model-filled descriptions are not clobbered.
func (s *Session) buildDocument() ToolDocument {
	switch s.variant.Kind {
	case KindGhlBooking:
		cfg := s.variant.Ghl
		api := SynthesizeGhlSchema(cfg.APIKey, cfg.CalendarID, cfg.LocationID, s.webhookBaseURL)
		if merged, ok := s.mergedFetchedSchema(map[string]string{
			"apiKey":     cfg.APIKey,
			"calendarId": cfg.CalendarID,
			"locationId": cfg.LocationID,
		}); ok {
			api = merged
		}
		return s.bookingDocument(NameGhlBooking, "Books an appointment using GoHighLevel", api)
	case KindCalCom:
		cfg := s.variant.CalCom
		api := SynthesizeCalComSchema(cfg.APIKey, s.webhookBaseURL)
		if merged, ok := s.mergedFetchedSchema(map[string]string{"apiKey": cfg.APIKey}); ok {
			api = merged
		}
		return s.bookingDocument(NameCalCom, "Books an appointment using Cal.com", api)
	default:
		cfg := s.variant.Webhook
		doc := ToolDocument{
			Name:                cfg.Name,
			Description:         cfg.Description,
			Type:                DocTypeWebhook,
			ResponseTimeoutSecs: ClampTimeout(cfg.TimeoutSecs),
			APISchema: &APISchema{
				URL:    cfg.URL,
				Method: "POST",
			},
		}
		if cfg.RequestSchema != nil {
			doc.APISchema.RequestBodySchema = cfg.RequestSchema.Clone()
		}
		return doc
	}
}

// bookingDocument assembles a booking tool document, preserving the stored
// description and timeout when editing an existing entry.
func (s *Session) bookingDocument(name, defaultDescription string, api APISchema) ToolDocument {
	doc := ToolDocument{
		Name:                name,
		Description:         defaultDescription,
		Type:                DocTypeWebhook,
		ResponseTimeoutSecs: DefaultTimeoutSecs,
		APISchema:           &api,
	}
	if s.fetched != nil {
		if s.fetched.Description != "" {
			doc.Description = s.fetched.Description
		}
		if s.fetched.ResponseTimeoutSecs > 0 {
			doc.ResponseTimeoutSecs = s.fetched.ResponseTimeoutSecs
		}
	}
	return doc
}

// mergedFetchedSchema merges constant values into a copy of the fetched
// document's schema. Returns false when there is no usable fetched schema,
// in which case the caller keeps the freshly synthesized one.
func (s *Session) mergedFetchedSchema(constants map[string]string) (APISchema, bool) {
	if s.fetched == nil || s.fetched.APISchema == nil || s.fetched.APISchema.RequestBodySchema == nil {
		return APISchema{}, false
	}
	api := APISchema{
		URL:               s.fetched.APISchema.URL,
		Method:            s.fetched.APISchema.Method,
		RequestBodySchema: s.fetched.APISchema.RequestBodySchema.Clone(),
	}
	for field, value := range constants {
		if err := MergeConstantValue(api.RequestBodySchema, field, value); err != nil {
			return APISchema{}, false
		}
	}
	return api, true
}

// Close discards all in-session field state. Cancelling an editing session
// never reverts the backing record; no write occurred.
func (s *Session) Close() {
	s.state = StateClosed
	s.variant = Variant{}
	s.rawSchema = ""
	s.fetched = nil
	s.fetchCache = nil
	s.lastErr = nil
}

// String implements fmt.Stringer for logging.
func (s *Session) String() string {
	return fmt.Sprintf("session(state=%s kind=%s tool=%s)", s.state, s.variant.Kind, s.toolID)
}
