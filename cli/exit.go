package cli

import "fmt"

// Exit codes the subcommands report to the shell. Scripts branch on these,
// so they are part of the CLI contract.
const (
	exitValidation   = 1 // document or flag input rejected
	exitRuntime      = 2
	exitFileNotFound = 3
	exitGateway      = 4 // registry unreachable or returned an error
)

// ExitError carries the process exit code a failed command wants main to
// use instead of cobra's default of 1.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
