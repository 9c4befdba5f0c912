package meeting

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	styleBlock   = regexp.MustCompile(`(?is)<style\b.*?</style\s*>`)
	blockBreak   = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/tr|/h[1-6])\s*/?>`)
	htmlTag      = regexp.MustCompile(`<[^>]*>`)
	inlineSpaces = regexp.MustCompile(`[ \t\f\r\x{00a0}]+`)
	lineEdges    = regexp.MustCompile(` *\n *`)
	blankLines   = regexp.MustCompile(`\n\s*\n+`)
)

// StripHTML reduces an HTML body to plain text.
func StripHTML(s string) string {
	s = scriptBlock.ReplaceAllString(s, " ")
	s = styleBlock.ReplaceAllString(s, " ")
	s = blockBreak.ReplaceAllString(s, "\n")
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	s = inlineSpaces.ReplaceAllString(s, " ")
	s = lineEdges.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// sourceText picks body text, then stripped HTML, then the subject.
func sourceText(subject, bodyText, bodyHTML *string) string {
	if bodyText != nil {
		if t := collapseWhitespace(*bodyText); t != "" {
			return t
		}
	}
	if bodyHTML != nil {
		if t := StripHTML(*bodyHTML); t != "" {
			return t
		}
	}
	if subject != nil {
		return collapseWhitespace(*subject)
	}
	return ""
}

// consume returns every match of re in text and blanks the matched spans so
// that later patterns cannot match the same words again.
func consume(text *string, re *regexp.Regexp) [][]string {
	locs := re.FindAllStringSubmatchIndex(*text, -1)
	if len(locs) == 0 {
		return nil
	}

	b := []byte(*text)
	out := make([][]string, 0, len(locs))
	for _, loc := range locs {
		groups := make([]string, len(loc)/2)
		for g := range groups {
			if loc[2*g] >= 0 {
				groups[g] = (*text)[loc[2*g]:loc[2*g+1]]
			}
		}
		out = append(out, groups)
		for i := loc[0]; i < loc[1]; i++ {
			b[i] = ' '
		}
	}
	*text = string(b)
	return out
}

func anyMatch(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
