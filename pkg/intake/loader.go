// Package intake implements the intake loader: it parses a
// YAML or JSON intake document, rejects unrecognized top-level sections,
// validates the recognized ones, and computes the intake_digest every Run
// is keyed to.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kestrelflow/engine/pkg/ids"
	"github.com/kestrelflow/engine/pkg/models"
)

var validate = validator.New()

// IntakeError names the section/field that failed to parse or validate,
// matching the `IntakeError{section, field, reason}` contract.
type IntakeError struct {
	Section string
	Field   string
	Reason  string
}

func (e *IntakeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("intake: %s.%s: %s", e.Section, e.Field, e.Reason)
	}
	return fmt.Sprintf("intake: %s: %s", e.Section, e.Reason)
}

// Loaded is the parsed intake plus its content-addressed digest.
type Loaded struct {
	Intake       models.Intake
	IntakeDigest string
}

// Load parses data as YAML or JSON (sniffed from the first non-whitespace
// byte), rejects any top-level key outside the recognized
// sections, validates the recognized ones, and computes intake_digest.
func Load(data []byte) (*Loaded, error) {
	if looksLikeJSON(data) {
		return loadJSON(data)
	}
	return loadYAML(data)
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func loadJSON(data []byte) (*Loaded, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var in models.Intake
	if err := dec.Decode(&in); err != nil {
		return nil, unknownFieldError(err)
	}
	return finish(in)
}

func loadYAML(data []byte) (*Loaded, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var in models.Intake
	if err := dec.Decode(&in); err != nil {
		return nil, unknownFieldError(err)
	}
	return finish(in)
}

// unknownFieldError normalizes both encoding/json's and yaml.v3's
// unknown-field error text into an IntakeError naming the offending
// top-level section where possible.
func unknownFieldError(err error) error {
	msg := err.Error()
	section := "intake"
	if idx := strings.Index(msg, "field "); idx >= 0 {
		rest := msg[idx+len("field "):]
		rest = strings.Trim(rest, "\"")
		if sp := strings.IndexAny(rest, " \""); sp >= 0 {
			rest = rest[:sp]
		}
		if rest != "" {
			section = rest
		}
	} else if idx := strings.Index(msg, "not found in type"); idx >= 0 {
		// yaml.v3: "line N: field X not found in type T" already handled
		// above; this branch covers older message shapes defensively.
		section = "unknown"
	}
	return &IntakeError{Section: section, Reason: msg}
}

func finish(in models.Intake) (*Loaded, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	digest, err := ids.HashCanonical(in)
	if err != nil {
		return nil, &IntakeError{Section: "intake", Reason: fmt.Sprintf("computing digest: %v", err)}
	}

	return &Loaded{Intake: in, IntakeDigest: digest}, nil
}

func validationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &IntakeError{
			Section: "intake",
			Field:   fe.Field(),
			Reason:  fmt.Sprintf("failed %q validation", fe.Tag()),
		}
	}
	return &IntakeError{Section: "intake", Reason: err.Error()}
}
