package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/studiowebux/asynchttp/internal/types"
)

// Status code bounds accepted by ParseStatusLine
const (
	MinStatus = 100
	MaxStatus = 599
)

// ParseStatusLine parses "<version> <code> <reason>" without its line
// terminator. The reason may be empty and is returned trimmed.
func ParseStatusLine(line string) (version string, code int, reason string, err error) {
	line = strings.TrimRight(line, "\r\n")
	version, rest, ok := strings.Cut(strings.TrimLeft(line, " "), " ")
	if !ok || !strings.HasPrefix(version, "HTTP/") {
		return "", 0, "", fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	codeStr, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	if len(codeStr) != 3 {
		return "", 0, "", fmt.Errorf("%w: status %q", ErrMalformedStatus, codeStr)
	}
	code, err = strconv.Atoi(codeStr)
	if err != nil || code < MinStatus || code > MaxStatus {
		return "", 0, "", fmt.Errorf("%w: status %q", ErrMalformedStatus, codeStr)
	}
	return version, code, strings.TrimSpace(reason), nil
}

// ParseHeaderLine splits a single header line at its first colon.
//
// The key is everything before the colon and must not be empty. The value is
// everything after it with one leading run of spaces removed; tabs and
// trailing whitespace are kept as received. Obsolete line folding is not
// supported: a line that starts with a space or tab is rejected.
func ParseHeaderLine(line string) (types.HeaderField, error) {
	if line != "" && (line[0] == ' ' || line[0] == '\t') {
		return types.HeaderField{}, fmt.Errorf("%w: folded line %q", ErrMalformedHeader, line)
	}
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return types.HeaderField{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return types.HeaderField{
		Key:   line[:i],
		Value: strings.TrimLeft(line[i+1:], " "),
	}, nil
}

// ParseHeaderBlock parses every non-blank line of block, in order, keeping
// duplicate keys. Lines may end in CRLF or LF.
func ParseHeaderBlock(block string) (types.Headers, error) {
	var h types.Headers
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		f, err := ParseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		h = append(h, f)
	}
	return h, nil
}
