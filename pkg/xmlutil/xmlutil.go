// Package xmlutil escapes log text before it is embedded in XML-delimited
// prompt templates.
package xmlutil

import (
	"encoding/xml"
	"strings"
)

// Escape replaces characters with special meaning in XML so that entry text
// cannot close or forge the tags that delimit it in a prompt.
func Escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		// EscapeText only fails on invalid UTF-8; return original on error.
		return s
	}
	return whitespace.Replace(buf.String())
}

// whitespace restores the line structure that EscapeText encodes as
// character references.
var whitespace = strings.NewReplacer("&#xA;", "\n", "&#x9;", "\t", "&#xD;", "")

// Wrap returns content escaped and enclosed in <tag>...</tag>. The tag name
// itself is trusted.
func Wrap(tag, content string) string {
	return "<" + tag + ">\n" + Escape(content) + "\n</" + tag + ">"
}
