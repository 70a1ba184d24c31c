package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes the event to stderr in "json" or "env" form, useful for
// piping a running server's activity into another process.
type StdioHook struct {
	id     string
	format string
	output *os.File
}

// NewStdioHook creates a stdio hook writing to stderr by default.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput redirects the hook's output.
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

// Execute writes the event in the hook's configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
	}
	_, err = fmt.Fprintf(h.output, "CTPROTO_EVENT: %s\n", body)
	return err
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# CTProto event: " + string(event.Type),
		fmt.Sprintf("CTPROTO_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("CTPROTO_TIMESTAMP=%d", event.Timestamp),
	}
	if event.ConnID != "" {
		lines = append(lines, "CTPROTO_CONN_ID="+event.ConnID)
	}
	if event.FileID != "" {
		lines = append(lines, "CTPROTO_FILE_ID="+event.FileID)
	}
	for key, value := range event.Data {
		lines = append(lines, "CTPROTO_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
		}
	}
	return nil
}
