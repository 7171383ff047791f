// Package personalize substitutes {{key}} placeholders in subject and body
// text from flat key-value recipient metadata. Placeholders with no matching
// key are left verbatim: recipient metadata is CSV-sourced and schema-less,
// so a missing variable is not an error.
package personalize

import "strings"

// Render replaces every {{key}} occurrence with vars[key]. Values are
// inserted literally, never re-scanned, so rendering already-substituted
// text is a no-op.
func Render(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))

	for {
		start := strings.Index(template, "{{")
		if start < 0 {
			b.WriteString(template)
			return b.String()
		}
		end := strings.Index(template[start+2:], "}}")
		if end < 0 {
			b.WriteString(template)
			return b.String()
		}

		key := strings.TrimSpace(template[start+2 : start+2+end])
		value, ok := vars[key]
		if ok {
			b.WriteString(template[:start])
			b.WriteString(value)
		} else {
			// Unknown key stays verbatim, braces included.
			b.WriteString(template[:start+2+end+2])
		}
		template = template[start+2+end+2:]
	}
}

// RenderAll renders subject and body against the same vars.
func RenderAll(subject, body string, vars map[string]string) (string, string) {
	return Render(subject, vars), Render(body, vars)
}
