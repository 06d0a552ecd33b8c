package output

import (
	"errors"
	"os"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DefaultFormat returns the configured format, or text for a terminal and
// the bare body when output is piped
func DefaultFormat(configured string, stdout *os.File) string {
	if configured != "" {
		return configured
	}
	if IsTerminal(stdout) {
		return FormatText
	}
	return FormatBody
}

var errClipboardUnsupported = errors.New("clipboard is not supported on this system")

var writeClipboard = clipboard.WriteAll

// Copy places text on the system clipboard
func Copy(text string) error {
	if clipboard.Unsupported {
		return errClipboardUnsupported
	}
	return writeClipboard(text)
}
