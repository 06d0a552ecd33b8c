package output

import (
	"mime"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is the chroma style used when none is configured
const DefaultStyle = "monokai"

// Highlight colors body for a 256-color terminal. The lexer is picked from
// the content type, falling back to content analysis.
func Highlight(body, contentType, style string) (string, error) {
	lexer := lexerFor(body, contentType)
	lexer = chroma.Coalesce(lexer)

	if style == "" {
		style = DefaultStyle
	}
	s := styles.Get(style)

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, body)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := formatter.Format(&sb, s, iterator); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func lexerFor(body, contentType string) chroma.Lexer {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		}
		if l := lexers.MatchMimeType(mediaType); l != nil {
			return l
		}
		// application/problem+json and friends
		if strings.HasSuffix(mediaType, "+json") {
			if l := lexers.Get("json"); l != nil {
				return l
			}
		}
	}
	if l := lexers.Analyse(body); l != nil {
		return l
	}
	return lexers.Fallback
}
