package masking

// Redactor applies a fixed set of compiled patterns to artifact bytes.
// Thread-safe and stateless aside from its compiled patterns, so a single
// instance is shared across every dispatcher.Invoke call.
type Redactor struct {
	patterns []CompiledPattern
}

// NewRedactor builds a Redactor from the builtin patterns plus any extra
// regexes a policy names.
func NewRedactor(customPatterns []string) *Redactor {
	patterns := compileBuiltins()
	patterns = append(patterns, compileCustom(customPatterns)...)
	return &Redactor{patterns: patterns}
}

// Redact returns data with every pattern match replaced in place. A nil
// Redactor is a valid no-op, so callers can leave artifact redaction
// disabled without a conditional at every call site.
func (r *Redactor) Redact(data []byte) []byte {
	if r == nil || len(data) == 0 {
		return data
	}
	out := data
	for _, p := range r.patterns {
		out = p.Regex.ReplaceAll(out, []byte(p.Replacement))
	}
	return out
}
