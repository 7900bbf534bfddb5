// Package sanitize turns user supplied text into markup-safe text.
package sanitize

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#x27;",
	"<", "&lt;",
	">", "&gt;",
	"/", "&#x2F;",
	`\`, "&#x5C;",
	"`", "&#96;",
)

// Text trims surrounding whitespace and escapes markup characters.
// An empty result means there is nothing worth delivering.
func Text(s string) string {
	return escaper.Replace(strings.TrimSpace(s))
}
