// Package masking redacts secrets out of agent-produced artifact content
// before it is persisted to the content-addressed blob store, so a leaked
// API key in a generated file never becomes a permanent, hash-addressed
// blob. Builtin patterns cover common credential shapes; policy authors can
// add more via Policy.Masking.CustomPatterns.
package masking

import (
	"fmt"
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are compiled once at package init. Replacement text names
// the credential kind so redacted artifacts remain legible.
var builtinPatterns = map[string]string{
	"aws_access_key":  `AKIA[0-9A-Z]{16}`,
	"generic_api_key": `(?i)(api[_-]?key|secret|token)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{20,}`,
	"bearer_token":    `(?i)bearer\s+[A-Za-z0-9._\-]{20,}`,
	"private_key":     `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`,
}

func replacementFor(name string) string {
	return fmt.Sprintf("[REDACTED:%s]", name)
}

// compileBuiltins compiles every builtin pattern, logging and skipping any
// that fail to compile rather than failing construction.
func compileBuiltins() []CompiledPattern {
	out := make([]CompiledPattern, 0, len(builtinPatterns))
	for name, pattern := range builtinPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Error("masking: builtin pattern failed to compile, skipping", "pattern", name, "error", err)
			continue
		}
		out = append(out, CompiledPattern{Name: name, Regex: re, Replacement: replacementFor(name)})
	}
	return out
}

// compileCustom compiles a caller-supplied list of extra regexes, keyed
// "custom:<index>", skipping any that fail to compile.
func compileCustom(patterns []string) []CompiledPattern {
	out := make([]CompiledPattern, 0, len(patterns))
	for i, pattern := range patterns {
		name := fmt.Sprintf("custom:%d", i)
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Error("masking: custom pattern failed to compile, skipping", "pattern", name, "error", err)
			continue
		}
		out = append(out, CompiledPattern{Name: name, Regex: re, Replacement: replacementFor(name)})
	}
	return out
}
