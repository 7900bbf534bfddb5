package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"trimmed", "  hi there \n\t", "hi there"},
		{"blank", "   ", ""},
		{"empty", "", ""},
		{"markup", `<b>"x" & 'y'</b>`, "&lt;b&gt;&quot;x&quot; &amp; &#x27;y&#x27;&lt;&#x2F;b&gt;"},
		{"backslash and backtick", "a\\b`c", "a&#x5C;b&#96;c"},
		{"already escaped is escaped again", "&amp;", "&amp;amp;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}
