// Package output renders request results for the terminal, files and
// object storage.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/asynchttp/internal/types"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatBody = "body"
)

// ErrUnknownFormat is returned for a format outside the list above
var ErrUnknownFormat = errors.New("unknown output format")

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Options control Render
type Options struct {
	Format string
	// Full adds response headers to text output
	Full bool
	// Color enables status styling and body highlighting in text output
	Color bool
	// Style is the chroma style used for body highlighting
	Style string
}

// Render formats result according to opts
func Render(result *types.RequestResult, opts Options) (string, error) {
	switch opts.Format {
	case FormatJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil

	case FormatYAML:
		data, err := yaml.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case FormatBody:
		return result.Body, nil

	case FormatText, "":
		return renderText(result, opts), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

func renderText(result *types.RequestResult, opts Options) string {
	var sb strings.Builder

	if result.Status != 0 {
		status := fmt.Sprintf("%d %s", result.Status, result.StatusText)
		if opts.Color {
			status = StatusStyle(result.Status).Render(status)
		}
		sb.WriteString(status)
		sb.WriteString("\n")
	}

	meta := fmt.Sprintf("Duration: %s | Size: %s",
		FormatDuration(result.Duration),
		FormatSize(result.ResponseSize))
	if opts.Color {
		meta = labelStyle.Render(meta)
	}
	sb.WriteString(meta)
	sb.WriteString("\n")

	if opts.Full && len(result.Headers) > 0 {
		sb.WriteString("\nHeaders:\n")
		for _, h := range result.Headers {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", h.Key, h.Value))
		}
	}

	if result.Body != "" {
		if opts.Full {
			sb.WriteString("\nBody:\n")
		} else {
			sb.WriteString("\n")
		}
		body := result.Body
		if opts.Color {
			if highlighted, err := Highlight(body, result.Headers.Get("Content-Type"), opts.Style); err == nil {
				body = highlighted
			}
		}
		sb.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			sb.WriteString("\n")
		}
	}

	if result.Error != "" {
		line := "Error: " + result.Error
		if opts.Color {
			line = errorStyle.Render(line)
		}
		sb.WriteString("\n")
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// StatusStyle picks the status line style for a status code
func StatusStyle(status int) lipgloss.Style {
	switch {
	case IsSuccessStatus(status):
		return successStyle
	case status >= 400:
		return errorStyle
	default:
		return warnStyle
	}
}
