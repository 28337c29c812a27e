package engine

import (
	"bytes"
	"strings"
)

// binarySniffLen bounds how much of a file is inspected for binary content.
const binarySniffLen = 8000

// interpolate substitutes {{name}} placeholders with the bound values.
// Placeholders with no binding are left verbatim so a missing variable is
// visible in the output instead of silently becoming an empty string.
// Surrounding whitespace inside the braces is tolerated.
func interpolate(content string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*4)
	for name, value := range vars {
		pairs = append(pairs,
			"{{"+name+"}}", value,
			"{{ "+name+" }}", value,
		)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// isBinary reports whether data looks like binary content. A NUL byte in the
// leading window marks the file as binary; binary files are copied verbatim,
// never interpolated.
func isBinary(data []byte) bool {
	window := data
	if len(window) > binarySniffLen {
		window = window[:binarySniffLen]
	}
	return bytes.IndexByte(window, 0) >= 0
}
