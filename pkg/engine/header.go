package engine

import (
	"fmt"
	"strings"
)

// provenanceHeader is the fixed header prefixed to every emitted artifact.
// It doubles as the generated-output marker the compiler filters on, which
// is what keeps generated artifacts out of the next pass's image.
func provenanceHeader(expander, target string) string {
	return fmt.Sprintf("// Code generated by spindle (expander %s) for %s. DO NOT EDIT.\n\n", expander, target)
}

// commented renders text as line comments so failure artifacts stay inert
// if they ever reach a compiler.
func commented(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("// ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
