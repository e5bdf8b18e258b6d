package governance

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// compiledValidator pairs a pre-compiled regex with the human-readable
// description that produced it, so failures can surface a meaningful
// remediation string.
type compiledValidator struct {
	pattern     string
	regex       *regexp.Regexp
	description string
}

// compilePatterns compiles every disallowed-pattern regex up front,
// logging and skipping any that fail to compile rather than failing the
// whole gate — an invalid policy-authored regex should not block every
// run, just lose that one check.
func compilePatterns(patterns []string) []compiledValidator {
	compiled := make([]compiledValidator, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Warn("governance: skipping invalid validator pattern", "pattern", p, "error", err)
			continue
		}
		compiled = append(compiled, compiledValidator{pattern: p, regex: re, description: p})
	}
	return compiled
}

// scanDisallowed finds the first disallowed-pattern match across name/content
// pairs, returning a human-readable remediation message, or "" if clean.
func scanDisallowed(patterns []string, artifacts map[string]string) string {
	compiled := compilePatterns(patterns)
	for _, name := range sortedKeys(artifacts) {
		content := artifacts[name]
		for _, cv := range compiled {
			if loc := cv.regex.FindStringIndex(content); loc != nil {
				return fmt.Sprintf("artifact %q matched disallowed pattern %q at offset %d", name, cv.pattern, loc[0])
			}
		}
	}
	return ""
}

// scanRequiredAttributes checks that every required key is present
// (case-insensitive substring match against front-matter / JSON key
// lines) in at least one of the named artifacts — a presence guardrail
// complementing the disallowed-pattern gates, for policies that need to
// assert an artifact *contains* something rather than only that it
// doesn't contain something.
func scanRequiredAttributes(required []string, artifacts map[string]string) []string {
	var missing []string
	for _, attr := range required {
		found := false
		for _, content := range artifacts {
			if strings.Contains(strings.ToLower(content), strings.ToLower(attr)) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, attr)
		}
	}
	return missing
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Small N (artifact count per phase); simple selection sort keeps the
	// two-key-free comparison explicit without importing sort here too.
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && keys[j] < keys[j-1] {
			keys[j], keys[j-1] = keys[j-1], keys[j]
			j--
		}
	}
	return keys
}
