package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// reportedError marks an error that OutputFormatter already printed.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }

func (e reportedError) Unwrap() error { return e.err }

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
	errOut   io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data any) error {
	if !f.jsonMode {
		if s, ok := data.(string); ok {
			fmt.Fprintln(f.out, s)
			return nil
		}
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.out, string(jsonBytes))
	return nil
}

// Table prints rows as a table, or data as JSON in --json mode.
func (f *OutputFormatter) Table(headers []string, rows [][]string, aligns []columnAlignment, data any) error {
	if f.jsonMode {
		return f.Print(data)
	}
	if len(rows) == 0 {
		fmt.Fprintln(f.out, "(none)")
		return nil
	}
	fmt.Fprintln(f.out, renderTable(headers, rows, aligns))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintln(f.out, message)
	return nil
}

// Error outputs an error message and returns it marked as reported.
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]any{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(f.errOut, string(jsonBytes))
	} else if err != nil {
		fmt.Fprintf(f.errOut, "%s: %v\n", message, err)
	} else {
		fmt.Fprintln(f.errOut, message)
	}
	if err == nil {
		return reportedError{err: errors.New(message)}
	}
	return reportedError{err: fmt.Errorf("%s: %w", message, err)}
}
