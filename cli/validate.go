package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a tool document JSON without saving",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	var doc toolcfg.ToolDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return exitError(exitValidation, "parsing tool document: %v", err)
	}

	diags := toolcfg.ValidateDocument(doc)
	printDiagnostics(out, doc, diags, format)

	if toolcfg.HasErrors(diags) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printDiagnostics(out io.Writer, doc toolcfg.ToolDocument, diags []Diagnostic, format string) {
	if format == "json" {
		payload := struct {
			Name        string       `json:"name"`
			Kind        toolcfg.Kind `json:"kind"`
			Diagnostics []Diagnostic `json:"diagnostics"`
		}{
			Name:        doc.Name,
			Kind:        toolcfg.Classify(doc.Name),
			Diagnostics: diags,
		}
		if payload.Diagnostics == nil {
			payload.Diagnostics = []Diagnostic{}
		}
		encoded, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(out, string(encoded))
		return
	}

	fmt.Fprintf(out, "%s (%s)\n", doc.Name, toolcfg.Classify(doc.Name))
	if len(diags) == 0 {
		fmt.Fprintln(out, "  ok")
		return
	}
	for _, d := range diags {
		if d.Field != "" {
			fmt.Fprintf(out, "  %s [%s] %s: %s\n", d.Severity, d.Code, d.Field, d.Message)
		} else {
			fmt.Fprintf(out, "  %s [%s] %s\n", d.Severity, d.Code, d.Message)
		}
	}
}

// Diagnostic aliases the engine's finding type for output encoding.
type Diagnostic = toolcfg.Diagnostic
