// Package toolcfg implements the tool configuration engine for the admin
// console: attaching callable tools (webhooks, built-in system actions, and
// the GHL / Cal.com booking integrations) to a conversational agent.
//
// The package is intentionally split by concern:
//   - variant: the tagged-union tool model and name-driven classification
//   - schema: request-body schema synthesis for the booking variants
//   - validate: validation diagnostics gating save-readiness
//   - session: the edit-session state machine and save dispatch
//   - gateway: the contract to the external tool registry
//
// Nothing here invokes tools at runtime; the engine only produces and
// persists tool documents and the agent's tool-reference set.
package toolcfg
