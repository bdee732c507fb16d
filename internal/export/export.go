// Package export renders sessions to portable formats: JSON (round-trippable),
// Markdown, and plain text. JSON is the only importable format.
package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/blockterm/blockterm/internal/core"
)

// ExportedSession wraps a session for serialization.
type ExportedSession struct {
	Session *core.Session `json:"session"`
}

// New wraps a session for export.
func New(session *core.Session) *ExportedSession {
	return &ExportedSession{Session: session}
}

// ToJSON renders the session as indented JSON.
func (e *ExportedSession) ToJSON() (string, error) {
	data, err := sonic.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize session to JSON: %w", err)
	}
	return string(data), nil
}

// ToJSONFile writes the JSON rendering to path.
func (e *ExportedSession) ToJSONFile(path string) error {
	data, err := e.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

// FromJSON parses a previously exported session.
func FromJSON(data string) (*ExportedSession, error) {
	var e ExportedSession
	if err := sonic.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("failed to deserialize session from JSON: %w", err)
	}
	if e.Session == nil {
		return nil, fmt.Errorf("exported data carries no session")
	}
	return &e, nil
}

// FromJSONFile reads and parses an exported session file.
func FromJSONFile(path string) (*ExportedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}
	return FromJSON(string(data))
}

// ToMarkdown renders the session as a Markdown transcript: a header section
// followed by one block section per command.
func (e *ExportedSession) ToMarkdown() string {
	var md strings.Builder

	fmt.Fprintf(&md, "# Session: %s\n\n", e.Session.Name)
	fmt.Fprintf(&md, "**Created:** %s\n\n", e.Session.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&md, "**Working Directory:** `%s`\n\n", e.Session.WorkingDirectory)

	if len(e.Session.Blocks) > 0 {
		md.WriteString("## Commands\n\n")

		for i, block := range e.Session.Blocks {
			fmt.Fprintf(&md, "### Block %d - %s\n\n", i+1, block.Timestamp.Format("15:04:05"))

			md.WriteString("**Command:**\n```bash\n")
			md.WriteString(block.Command)
			md.WriteString("\n```\n\n")

			if block.Output != "" {
				md.WriteString("**Output:**\n```\n")
				md.WriteString(block.Output)
				md.WriteString("\n```\n\n")
			}

			fmt.Fprintf(&md, "**Status:** %s", block.State)
			if block.ExitCode != nil {
				fmt.Fprintf(&md, " (exit code: %d)", *block.ExitCode)
			}
			md.WriteString("\n\n")

			if block.Metadata.Duration > 0 {
				fmt.Fprintf(&md, "**Duration:** %.2fs\n\n", block.Metadata.Duration.Seconds())
			}

			md.WriteString("---\n\n")
		}
	}

	return md.String()
}

// ToMarkdownFile writes the Markdown rendering to path.
func (e *ExportedSession) ToMarkdownFile(path string) error {
	if err := os.WriteFile(path, []byte(e.ToMarkdown()), 0o644); err != nil {
		return fmt.Errorf("failed to write Markdown file: %w", err)
	}
	return nil
}

// ToText renders the session as a plain transcript.
func (e *ExportedSession) ToText() string {
	var text strings.Builder

	fmt.Fprintf(&text, "Session: %s\n", e.Session.Name)
	fmt.Fprintf(&text, "Created: %s\n", e.Session.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&text, "Working Directory: %s\n\n", e.Session.WorkingDirectory)

	for i, block := range e.Session.Blocks {
		fmt.Fprintf(&text, "[Block %d] %s\n", i+1, block.Timestamp.Format("15:04:05"))
		fmt.Fprintf(&text, "$ %s\n", block.Command)

		if block.Output != "" {
			text.WriteString(block.Output)
			if !strings.HasSuffix(block.Output, "\n") {
				text.WriteByte('\n')
			}
		}

		fmt.Fprintf(&text, "Status: %s", block.State)
		if block.ExitCode != nil {
			fmt.Fprintf(&text, " (exit code: %d)", *block.ExitCode)
		}
		text.WriteString("\n\n")
	}

	return text.String()
}

// ToTextFile writes the plain-text rendering to path.
func (e *ExportedSession) ToTextFile(path string) error {
	if err := os.WriteFile(path, []byte(e.ToText()), 0o644); err != nil {
		return fmt.Errorf("failed to write text file: %w", err)
	}
	return nil
}
