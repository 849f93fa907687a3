// Package shellquote builds POSIX-shell-safe argument strings for the
// generated per-agent launch scripts.
package shellquote

import "strings"

// Quote wraps s in single quotes, escaping any embedded single quote as
// '\'' (close quote, escaped literal quote, reopen quote). The result is
// safe to splice into a POSIX sh command line regardless of content.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, "'") {
		// Fast path: no embedded quotes, no need to inspect further.
		return "'" + s + "'"
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Heredoc wraps body in a quoted heredoc (using tag as the delimiter) so
// the content is passed through verbatim with no parameter expansion or
// command substitution. tag should be unlikely to collide with body
// content; callers typically use a random suffix.
func Heredoc(tag, body string) string {
	var b strings.Builder
	b.WriteString("<<'")
	b.WriteString(tag)
	b.WriteString("'\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(tag)
	return b.String()
}
