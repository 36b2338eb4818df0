package render

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// ContentSecurityPolicy permits the inline styles Highlight emits and nothing
// else.
const ContentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none';"

// Highlight renders code as a standalone HTML page with inline styles. An
// empty or unknown lang falls back to content analysis, then plain text. The
// returned name is the lexer that was used.
func Highlight(code, lang, theme string) (page []byte, name string, err error) {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "github"
	if strings.EqualFold(theme, "dark") {
		styleName = "dracula"
	}
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}

	formatter := chromahtml.New(
		chromahtml.Standalone(true),
		chromahtml.WithLineNumbers(true),
		chromahtml.WithClasses(false),
		chromahtml.TabWidth(4),
	)
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, it); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), lexer.Config().Name, nil
}
