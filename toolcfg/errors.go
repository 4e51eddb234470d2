package toolcfg

import (
	"fmt"
	"strings"
)

// Session-level error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeSaveInProgress   = "SAVE_IN_PROGRESS"
	CodeNotEditing       = "NOT_EDITING"
)

// ConfigError is a structured, recoverable engine error. Validation failures
// carry the field diagnostics that blocked the save.
type ConfigError struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

func newConfigError(code, format string, args ...any) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
