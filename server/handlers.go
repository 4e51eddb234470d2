package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Agents ---

// agentRequest is the create/update body for an agent record.
type agentRequest struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Prompt      string  `json:"prompt"`
	LLM         string  `json:"llm"`
	Temperature float64 `json:"temperature"`
	VoiceID     string  `json:"voice_id"`
	Language    string  `json:"language"`
	ModelType   string  `json:"model_type"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Name == "" || req.UserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name and user_id are required")
		return
	}

	now := time.Now()
	rec := AgentRecord{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Name:        req.Name,
		Prompt:      req.Prompt,
		LLM:         req.LLM,
		Temperature: req.Temperature,
		VoiceID:     req.VoiceID,
		Language:    req.Language,
		ModelType:   req.ModelType,
		Tools: toolcfg.AgentToolSet{
			ToolIDs:      []string{},
			BuiltInTools: map[toolcfg.SystemType]*toolcfg.BuiltInTool{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Name != "" {
		rec.Name = req.Name
	}
	if req.Prompt != "" {
		rec.Prompt = req.Prompt
	}
	if req.LLM != "" {
		rec.LLM = req.LLM
	}
	if req.Temperature != 0 {
		rec.Temperature = req.Temperature
	}
	if req.VoiceID != "" {
		rec.VoiceID = req.VoiceID
	}
	if req.Language != "" {
		rec.Language = req.Language
	}
	if req.ModelType != "" {
		rec.ModelType = req.ModelType
	}
	rec.UpdatedAt = time.Now()
	if err := s.store.Update(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("agent %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tool attachment ---

// toolOptionsResponse lists what the variant-selection screen offers.
type toolOptionsResponse struct {
	Variants    []toolcfg.Kind        `json:"variants"`
	SystemTypes []toolcfg.SystemType  `json:"system_types"`
	Reusable    []toolcfg.ToolSummary `json:"reusable"`
}

// handleToolOptions returns the selectable variants and reusable registry
// entries for an agent. Booking variants and system types already attached are
// omitted; a variant the agent carries is edited through its existing entry,
// not added twice.
func (s *Server) handleToolOptions(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}

	systemTypes := make([]toolcfg.SystemType, 0)
	for _, st := range toolcfg.SystemTypes() {
		if !rec.Tools.HasBuiltIn(st) {
			systemTypes = append(systemTypes, st)
		}
	}

	all, err := s.gateway.ListTools(r.Context(), rec.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "REGISTRY_ERROR", err.Error())
		return
	}
	reusable := make([]toolcfg.ToolSummary, 0, len(all))
	for _, summary := range all {
		if !rec.Tools.HasTool(summary.ToolID) {
			reusable = append(reusable, summary)
		}
	}

	attached := map[toolcfg.Kind]bool{}
	for _, toolID := range rec.Tools.ToolIDs {
		// A fetch failure keeps the variant on offer; the session's own fetch
		// will surface the error if the operator picks it.
		doc, err := s.gateway.GetTool(r.Context(), rec.UserID, toolID)
		if err != nil {
			continue
		}
		attached[toolcfg.Classify(doc.Name)] = true
	}
	variants := []toolcfg.Kind{toolcfg.KindWebhook}
	for _, kind := range []toolcfg.Kind{toolcfg.KindGhlBooking, toolcfg.KindCalCom} {
		if !attached[kind] {
			variants = append(variants, kind)
		}
	}
	if len(systemTypes) > 0 {
		variants = append(variants, toolcfg.KindSystem)
	}

	writeJSON(w, http.StatusOK, toolOptionsResponse{
		Variants:    variants,
		SystemTypes: systemTypes,
		Reusable:    reusable,
	})
}

// handleDetachTool removes a registry id from the agent's tool set. The
// registry entry itself stays; only the reference is dropped.
func (s *Server) handleDetachTool(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}
	toolID := r.PathValue("tool_id")
	if !rec.Tools.HasTool(toolID) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not attached", toolID))
		return
	}
	rec.Tools.DetachTool(toolID)
	rec.UpdatedAt = time.Now()
	if err := s.store.Update(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.Tools)
}

// handleRemoveBuiltIn nulls a built-in entry on the agent's tool set.
func (s *Server) handleRemoveBuiltIn(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}
	st := toolcfg.SystemType(r.PathValue("system_type"))
	if !rec.Tools.HasBuiltIn(st) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("built-in %q not configured", st))
		return
	}
	rec.Tools.RemoveBuiltIn(st)
	rec.UpdatedAt = time.Now()
	if err := s.store.Update(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.Tools)
}

// --- Configuration sessions ---

// openSessionRequest opens an edit session, optionally jumping straight to
// an existing registry entry or a built-in.
type openSessionRequest struct {
	ToolID     string             `json:"tool_id"`
	SystemType toolcfg.SystemType `json:"system_type"`
}

// variantView is the JSON projection of the active variant's field state.
type variantView struct {
	Kind                toolcfg.Kind           `json:"kind,omitempty"`
	Name                string                 `json:"name,omitempty"`
	Description         string                 `json:"description,omitempty"`
	ResponseTimeoutSecs int                    `json:"response_timeout_secs,omitempty"`
	URL                 string                 `json:"url,omitempty"`
	SchemaJSON          string                 `json:"schema_json,omitempty"`
	SystemType          toolcfg.SystemType     `json:"system_type,omitempty"`
	Transfers           []toolcfg.TransferRule `json:"transfers,omitempty"`
	GhlAPIKey           string                 `json:"ghl_api_key,omitempty"`
	GhlCalendarID       string                 `json:"ghl_calendar_id,omitempty"`
	GhlLocationID       string                 `json:"ghl_location_id,omitempty"`
	CalAPIKey           string                 `json:"cal_api_key,omitempty"`
}

type sessionView struct {
	ID          string               `json:"id"`
	AgentID     string               `json:"agent_id"`
	State       toolcfg.State        `json:"state"`
	ToolID      string               `json:"tool_id,omitempty"`
	Variant     variantView          `json:"variant"`
	Diagnostics []toolcfg.Diagnostic `json:"diagnostics"`
	CanSave     bool                 `json:"can_save"`
	Error       string               `json:"error,omitempty"`
}

func viewOf(ms *managedSession) sessionView {
	sess := ms.session
	v := sess.Variant()
	view := sessionView{
		ID:          ms.id,
		AgentID:     ms.agentID,
		State:       sess.State(),
		ToolID:      sess.ToolID(),
		Variant:     variantView{Kind: v.Kind},
		Diagnostics: sess.Diagnostics(),
		CanSave:     sess.CanSave(),
	}
	if view.Diagnostics == nil {
		view.Diagnostics = []toolcfg.Diagnostic{}
	}
	if err := sess.Err(); err != nil {
		view.Error = err.Error()
	}
	switch v.Kind {
	case toolcfg.KindWebhook:
		view.Variant.Name = v.Webhook.Name
		view.Variant.Description = v.Webhook.Description
		view.Variant.ResponseTimeoutSecs = v.Webhook.TimeoutSecs
		view.Variant.URL = v.Webhook.URL
		view.Variant.SchemaJSON = sess.RawSchema()
	case toolcfg.KindSystem:
		view.Variant.Name = string(v.System.Type)
		view.Variant.SystemType = v.System.Type
		view.Variant.Description = v.System.Description
		view.Variant.ResponseTimeoutSecs = v.System.TimeoutSecs
		view.Variant.Transfers = v.System.Transfers
	case toolcfg.KindGhlBooking:
		view.Variant.Name = toolcfg.NameGhlBooking
		view.Variant.GhlAPIKey = v.Ghl.APIKey
		view.Variant.GhlCalendarID = v.Ghl.CalendarID
		view.Variant.GhlLocationID = v.Ghl.LocationID
	case toolcfg.KindCalCom:
		view.Variant.Name = toolcfg.NameCalCom
		view.Variant.CalAPIKey = v.CalCom.APIKey
	}
	return view
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.agentOr404(w, r)
	if !ok {
		return
	}
	var req openSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}

	sess, err := toolcfg.NewSession(toolcfg.SessionConfig{
		UserID:         rec.UserID,
		Gateway:        s.gateway,
		ToolSet:        rec.Tools,
		WebhookBaseURL: s.webhookBaseURL,
		Logger:         s.logger,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}

	switch {
	case req.ToolID != "":
		// Fetch failures are retained on the session: the form stays
		// unpopulated and the client sees the error banner.
		_ = sess.OpenExisting(r.Context(), req.ToolID)
	case req.SystemType != "":
		if err := sess.SelectSystem(req.SystemType); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return
		}
	}

	id := s.sessions.Open(rec.ID, sess)
	ms, _ := s.sessions.get(id)
	writeJSON(w, http.StatusCreated, viewOf(ms))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ms, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	writeJSON(w, http.StatusOK, viewOf(ms))
}

// selectVariantRequest switches the session to a new variant.
type selectVariantRequest struct {
	Kind       toolcfg.Kind       `json:"kind"`
	SystemType toolcfg.SystemType `json:"system_type"`
}

func (s *Server) handleSelectVariant(w http.ResponseWriter, r *http.Request) {
	ms, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	var req selectVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	var err error
	if req.Kind == toolcfg.KindSystem || req.SystemType != "" {
		err = ms.session.SelectSystem(req.SystemType)
	} else {
		err = ms.session.SelectVariant(req.Kind)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ms))
}

// fieldUpdateRequest applies partial field edits to the active variant.
// Nil fields are left untouched.
type fieldUpdateRequest struct {
	Name                *string                 `json:"name"`
	Description         *string                 `json:"description"`
	ResponseTimeoutSecs *int                    `json:"response_timeout_secs"`
	URL                 *string                 `json:"url"`
	SchemaJSON          *string                 `json:"schema_json"`
	Transfers           *[]toolcfg.TransferRule `json:"transfers"`
	GhlAPIKey           *string                 `json:"ghl_api_key"`
	GhlCalendarID       *string                 `json:"ghl_calendar_id"`
	GhlLocationID       *string                 `json:"ghl_location_id"`
	CalAPIKey           *string                 `json:"cal_api_key"`
}

func (s *Server) handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	ms, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	var req fieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	sess := ms.session
	if !sess.State().IsEditing() {
		writeError(w, http.StatusConflict, "NOT_EDITING", fmt.Sprintf("session is %s", sess.State()))
		return
	}

	if req.Name != nil {
		sess.SetName(*req.Name)
	}
	if req.Description != nil {
		sess.SetDescription(*req.Description)
	}
	if req.ResponseTimeoutSecs != nil {
		sess.SetTimeout(*req.ResponseTimeoutSecs)
	}
	if req.URL != nil {
		sess.SetURL(*req.URL)
	}
	if req.SchemaJSON != nil {
		sess.SetSchemaJSON(*req.SchemaJSON)
	}
	if req.Transfers != nil {
		sess.SetTransfers(*req.Transfers)
	}
	if req.GhlAPIKey != nil || req.GhlCalendarID != nil || req.GhlLocationID != nil {
		ghl := sess.Variant().Ghl
		if req.GhlAPIKey != nil {
			ghl.APIKey = *req.GhlAPIKey
		}
		if req.GhlCalendarID != nil {
			ghl.CalendarID = *req.GhlCalendarID
		}
		if req.GhlLocationID != nil {
			ghl.LocationID = *req.GhlLocationID
		}
		sess.SetGhlCredentials(ghl.APIKey, ghl.CalendarID, ghl.LocationID)
	}
	if req.CalAPIKey != nil {
		sess.SetCalComAPIKey(*req.CalAPIKey)
	}

	writeJSON(w, http.StatusOK, viewOf(ms))
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	ms, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}

	ms.mu.Lock()
	sess := ms.session
	kind := sess.Variant().Kind

	toolSet, err := sess.Save(r.Context())
	if s.saveObserver != nil {
		s.saveObserver.ObserveSave(kind, err)
	}
	if err != nil {
		ms.mu.Unlock()
		var cfgErr *toolcfg.ConfigError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusUnprocessableEntity, cfgErr.Code, cfgErr.Message, cfgErr.Diagnostics...)
			return
		}
		if errors.Is(err, toolcfg.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "REGISTRY_ERROR", err.Error())
		return
	}
	ms.mu.Unlock()

	rec, found, err := s.store.Get(r.Context(), ms.agentID)
	if err == nil && !found {
		err = errors.New("agent record unavailable after save")
	}
	if err == nil {
		rec.Tools = toolSet
		rec.UpdatedAt = time.Now()
		err = s.store.Update(r.Context(), rec)
	}

	// A saved session is finished either way; release it instead of waiting
	// for sweep. The registry write already happened.
	s.sessions.Close(ms.id)

	if err != nil {
		// The new tool id exists only in the registry now, so the tool set
		// rides the error body rather than being dropped with the session.
		writeJSON(w, http.StatusInternalServerError, saveStoreError{
			Error: apiErrorBody{Code: "STORE_ERROR", Message: err.Error()},
			Tools: toolSet,
		})
		return
	}

	s.logger.Info("tool saved", "agent_id", ms.agentID, "kind", string(kind))
	writeJSON(w, http.StatusOK, toolSet)
}

// saveStoreError reports a store failure that happened after the registry
// write succeeded.
type saveStoreError struct {
	Error apiErrorBody         `json:"error"`
	Tools toolcfg.AgentToolSet `json:"tools"`
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.sessions.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleSampleSchema serves the example operator schema for the webhook form.
func (s *Server) handleSampleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toolcfg.SampleOperatorSchema())
}

// --- helpers ---

func (s *Server) agentOr404(w http.ResponseWriter, r *http.Request) (AgentRecord, bool) {
	id := r.PathValue("id")
	rec, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return AgentRecord{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("agent %q not found", id))
		return AgentRecord{}, false
	}
	return rec, true
}

func (s *Server) sessionOr404(w http.ResponseWriter, r *http.Request) (*managedSession, bool) {
	id := r.PathValue("id")
	ms, ok := s.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("session %q not found", id))
		return nil, false
	}
	return ms, true
}
