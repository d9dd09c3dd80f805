package oracle

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")

// ExtractCode pulls program text out of an oracle answer. The first fenced
// block wins; an answer without fences is used as is.
func ExtractCode(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// EnsureShebang prepends an interpreter directive when code lacks one.
func EnsureShebang(code, interpreter string) string {
	if strings.HasPrefix(code, "#!") {
		return code
	}
	return "#!" + interpreter + "\n" + code
}
