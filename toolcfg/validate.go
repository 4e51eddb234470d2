package toolcfg

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Severity defines diagnostic severity produced by validators.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a structured validation finding tied to a form field.
type Diagnostic struct {
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Validation diagnostic codes. All are recoverable: surfaced next to the
// offending field with save disabled until cleared.
const (
	CodeEmptyName          = "EMPTY_NAME"
	CodeReservedName       = "RESERVED_NAME"
	CodeInvalidNameFormat  = "INVALID_NAME_FORMAT"
	CodeEmptyDescription   = "EMPTY_DESCRIPTION"
	CodeEmptyURL           = "EMPTY_URL"
	CodeMalformedURL       = "MALFORMED_URL"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeInvalidTimeout     = "INVALID_TIMEOUT"
	CodeInvalidVariant     = "INVALID_VARIANT"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// HasErrors reports whether at least one error-severity diagnostic exists.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateName validates an operator-chosen webhook name. System and booking
// variants carry fixed names and skip the reserved-name check entirely.
func ValidateName(name string, kind Kind) []Diagnostic {
	if kind != KindWebhook {
		return nil
	}
	clean := strings.TrimSpace(name)
	if clean == "" {
		return []Diagnostic{{
			Field:    "name",
			Code:     CodeEmptyName,
			Severity: SeverityError,
			Message:  "Tool name is required",
		}}
	}
	if IsReservedName(clean) {
		return []Diagnostic{{
			Field:    "name",
			Code:     CodeReservedName,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q is a reserved tool name", clean),
		}}
	}
	if !toolNamePattern.MatchString(clean) {
		return []Diagnostic{{
			Field:    "name",
			Code:     CodeInvalidNameFormat,
			Severity: SeverityError,
			Message:  "Tool name must match ^[A-Za-z0-9_-]{1,64}$",
		}}
	}
	return nil
}

// ValidateURL validates a webhook endpoint. The URL must parse as absolute.
func ValidateURL(raw string) []Diagnostic {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return []Diagnostic{{
			Field:    "url",
			Code:     CodeEmptyURL,
			Severity: SeverityError,
			Message:  "Webhook URL is required",
		}}
	}
	parsed, err := url.Parse(clean)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return []Diagnostic{{
			Field:    "url",
			Code:     CodeMalformedURL,
			Severity: SeverityError,
			Message:  "Webhook URL must be an absolute URL",
		}}
	}
	return nil
}

// ValidateGhl requires the full GoHighLevel credential triple.
func ValidateGhl(cfg GhlConfig) []Diagnostic {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "apiKey")
	}
	if strings.TrimSpace(cfg.CalendarID) == "" {
		missing = append(missing, "calendarId")
	}
	if strings.TrimSpace(cfg.LocationID) == "" {
		missing = append(missing, "locationId")
	}
	if len(missing) == 0 {
		return nil
	}
	return []Diagnostic{{
		Field:    strings.Join(missing, ","),
		Code:     CodeMissingCredentials,
		Severity: SeverityError,
		Message:  "GHL booking requires apiKey, calendarId, and locationId",
	}}
}

// ValidateCalCom requires the Cal.com API key.
func ValidateCalCom(cfg CalComConfig) []Diagnostic {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return nil
	}
	return []Diagnostic{{
		Field:    "apiKey",
		Code:     CodeMissingCredentials,
		Severity: SeverityError,
		Message:  "Cal.com booking requires an API key",
	}}
}

// ValidateOperatorSchema checks that raw schema text structurally parses.
func ValidateOperatorSchema(jsonText string) []Diagnostic {
	if _, err := ParseOperatorSchema(jsonText); err != nil {
		return []Diagnostic{{
			Field:    "request_body_schema",
			Code:     CodeInvalidJSON,
			Severity: SeverityError,
			Message:  "Invalid JSON format",
		}}
	}
	return nil
}

// ValidateTimeout bounds the response timeout. Zero means "use default" and
// is accepted.
func ValidateTimeout(secs int) []Diagnostic {
	if secs == 0 || (secs >= MinTimeoutSecs && secs <= MaxTimeoutSecs) {
		return nil
	}
	return []Diagnostic{{
		Field:    "response_timeout_secs",
		Code:     CodeInvalidTimeout,
		Severity: SeverityError,
		Message:  fmt.Sprintf("Response timeout must be between %d and %d seconds", MinTimeoutSecs, MaxTimeoutSecs),
	}}
}

// validateWebhook aggregates the webhook save gate: name, description, URL,
// timeout, and a structurally valid schema.
func validateWebhook(cfg WebhookConfig, rawSchema string) []Diagnostic {
	diags := ValidateName(cfg.Name, KindWebhook)
	if strings.TrimSpace(cfg.Description) == "" {
		diags = append(diags, Diagnostic{
			Field:    "description",
			Code:     CodeEmptyDescription,
			Severity: SeverityError,
			Message:  "Tool description is required",
		})
	}
	diags = append(diags, ValidateURL(cfg.URL)...)
	diags = append(diags, ValidateTimeout(cfg.TimeoutSecs)...)
	if rawSchema != "" {
		diags = append(diags, ValidateOperatorSchema(rawSchema)...)
	}
	return diags
}

// ValidateDocument checks a wire document outside any edit session, for
// offline inspection of registry payloads. The document's name decides which
// variant's rules apply.
func ValidateDocument(doc ToolDocument) []Diagnostic {
	var schema *RequestSchema
	var urlValue string
	if doc.APISchema != nil {
		schema = doc.APISchema.RequestBodySchema
		urlValue = doc.APISchema.URL
	}

	switch Classify(doc.Name) {
	case KindGhlBooking:
		return ValidateGhl(GhlConfig{
			APIKey:     ConstantValue(schema, "apiKey"),
			CalendarID: ConstantValue(schema, "calendarId"),
			LocationID: ConstantValue(schema, "locationId"),
		})
	case KindCalCom:
		return ValidateCalCom(CalComConfig{APIKey: ConstantValue(schema, "apiKey")})
	case KindSystem:
		return ValidateTimeout(doc.ResponseTimeoutSecs)
	default:
		cfg := WebhookConfig{
			Name:        doc.Name,
			Description: doc.Description,
			TimeoutSecs: doc.ResponseTimeoutSecs,
			URL:         urlValue,
		}
		if cfg.TimeoutSecs == 0 {
			cfg.TimeoutSecs = DefaultTimeoutSecs
		}
		return validateWebhook(cfg, "")
	}
}

// Validate runs the variant-specific save gate and returns all findings.
// rawSchema is the operator-entered schema text for the webhook variant;
// other variants ignore it.
func (v Variant) Validate(rawSchema string) []Diagnostic {
	switch v.Kind {
	case KindWebhook:
		return validateWebhook(v.Webhook, rawSchema)
	case KindSystem:
		return ValidateTimeout(v.System.TimeoutSecs)
	case KindGhlBooking:
		return ValidateGhl(v.Ghl)
	case KindCalCom:
		return ValidateCalCom(v.CalCom)
	default:
		return []Diagnostic{{
			Code:     CodeInvalidVariant,
			Severity: SeverityError,
			Message:  fmt.Sprintf("Unknown tool variant %q", v.Kind),
		}}
	}
}
