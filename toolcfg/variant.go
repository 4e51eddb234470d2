package toolcfg

import "strings"

// Kind discriminates the tool variants an operator can configure.
type Kind string

const (
	KindWebhook    Kind = "webhook"
	KindSystem     Kind = "system"
	KindGhlBooking Kind = "ghl_booking"
	KindCalCom     Kind = "calcom"
)

// SystemType identifies a built-in platform action.
type SystemType string

const (
	SystemEndCall             SystemType = "end_call"
	SystemLanguageDetection   SystemType = "language_detection"
	SystemTransferToAgent     SystemType = "transfer_to_agent"
	SystemTransferToNumber    SystemType = "transfer_to_number"
	SystemSkipTurn            SystemType = "skip_turn"
	SystemPlayKeypadTouchTone SystemType = "play_keypad_touch_tone"
)

// Fixed names of the first-class booking integrations.
const (
	NameGhlBooking = "GHL_BOOKING"
	NameCalCom     = "CALCOM"
)

// DefaultTimeoutSecs is the response timeout applied to every new variant.
const DefaultTimeoutSecs = 20

// Response timeout bounds for a tool document.
const (
	MinTimeoutSecs = 1
	MaxTimeoutSecs = 120
)

// legacyReservedNames are names retired from earlier console versions that
// must stay unclaimable by operator-defined webhooks.
var legacyReservedNames = []string{"transfer_call", "CAL_BOOKING"}

// SystemTypes returns all built-in system types in declaration order.
func SystemTypes() []SystemType {
	return []SystemType{
		SystemEndCall,
		SystemLanguageDetection,
		SystemTransferToAgent,
		SystemTransferToNumber,
		SystemSkipTurn,
		SystemPlayKeypadTouchTone,
	}
}

// IsSystemType reports whether name exactly matches a built-in system type.
func IsSystemType(name string) bool {
	for _, st := range SystemTypes() {
		if name == string(st) {
			return true
		}
	}
	return false
}

// Classify maps a tool name to its variant. Classification never fails: an
// unrecognized name resolves to the permissive webhook default.
func Classify(name string) Kind {
	switch {
	case name == NameGhlBooking:
		return KindGhlBooking
	case name == NameCalCom:
		return KindCalCom
	case IsSystemType(name):
		return KindSystem
	default:
		return KindWebhook
	}
}

// ReservedNames returns every name an operator-defined webhook may not claim:
// the booking tool names, all system types, and legacy aliases.
func ReservedNames() []string {
	names := []string{NameGhlBooking, NameCalCom}
	for _, st := range SystemTypes() {
		names = append(names, string(st))
	}
	return append(names, legacyReservedNames...)
}

// IsReservedName reports whether name collides with a reserved tool name.
// Comparison is case-insensitive.
func IsReservedName(name string) bool {
	for _, reserved := range ReservedNames() {
		if strings.EqualFold(name, reserved) {
			return true
		}
	}
	return false
}

// WebhookConfig is the operator-authored HTTP callback variant.
type WebhookConfig struct {
	Name          string
	Description   string
	TimeoutSecs   int
	URL           string
	RequestSchema *RequestSchema
}

// SystemConfig is a built-in platform action. Name and type are fixed once
// created; only description, timeout, and transfer rules are editable.
type SystemConfig struct {
	Type        SystemType
	Description string
	TimeoutSecs int
	Transfers   []TransferRule
}

// GhlConfig holds the operator credentials for the GoHighLevel booking tool.
type GhlConfig struct {
	APIKey     string
	CalendarID string
	LocationID string
}

// CalComConfig holds the operator credential for the Cal.com booking tool.
type CalComConfig struct {
	APIKey string
}

// Variant is the tagged union over the four configuration shapes. Only the
// field matching Kind is meaningful.
type Variant struct {
	Kind    Kind
	Webhook WebhookConfig
	System  SystemConfig
	Ghl     GhlConfig
	CalCom  CalComConfig
}

// Name returns the wire name the variant will be persisted under.
func (v Variant) Name() string {
	switch v.Kind {
	case KindWebhook:
		return v.Webhook.Name
	case KindSystem:
		return string(v.System.Type)
	case KindGhlBooking:
		return NameGhlBooking
	case KindCalCom:
		return NameCalCom
	default:
		return ""
	}
}

// systemDefaults maps each system type to its default description.
var systemDefaults = map[SystemType]string{
	SystemEndCall:             "Ends the current call",
	SystemLanguageDetection:   "Detects the language spoken by the caller",
	SystemTransferToAgent:     "Transfers the call to another agent",
	SystemTransferToNumber:    "Transfers the call to another number",
	SystemSkipTurn:            "Skip the current turn",
	SystemPlayKeypadTouchTone: "Plays a keypad touch tone",
}

// DefaultSystemDescription returns the canonical description for a system type.
func DefaultSystemDescription(st SystemType) string {
	return systemDefaults[st]
}

// DefaultsFor returns the canonical empty instance for a variant kind.
// Booking credentials start empty; all variants share the default timeout.
func DefaultsFor(kind Kind) Variant {
	v := Variant{Kind: kind}
	switch kind {
	case KindWebhook:
		v.Webhook = WebhookConfig{TimeoutSecs: DefaultTimeoutSecs}
	case KindSystem:
		v.System = SystemConfig{TimeoutSecs: DefaultTimeoutSecs}
	case KindGhlBooking:
		v.Ghl = GhlConfig{}
	case KindCalCom:
		v.CalCom = CalComConfig{}
	}
	return v
}

// DefaultSystemVariant returns the default instance for a specific built-in.
func DefaultSystemVariant(st SystemType) Variant {
	v := DefaultsFor(KindSystem)
	v.System.Type = st
	v.System.Description = DefaultSystemDescription(st)
	return v
}

// ClampTimeout bounds a response timeout to the permitted range, substituting
// the default for unset values.
func ClampTimeout(secs int) int {
	if secs == 0 {
		return DefaultTimeoutSecs
	}
	if secs < MinTimeoutSecs {
		return MinTimeoutSecs
	}
	if secs > MaxTimeoutSecs {
		return MaxTimeoutSecs
	}
	return secs
}
