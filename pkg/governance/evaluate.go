package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelflow/engine/pkg/models"
)

// ToolInvoker is the narrow slice of the agent dispatcher a Tool gate
// needs: run an external scanner by name and get back a structured
// result keyed by field name. Kept as an interface so this package never
// imports pkg/dispatcher directly.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, toolName string, args map[string]string) (map[string]any, error)
}

// PhaseContext is everything a gate needs to see to evaluate a phase
// transition: artifact contents by logical name (decoded to string for
// text-based gates) and raw JSON blobs for metric extraction.
type PhaseContext struct {
	RunID         string
	Phase         string
	ArtifactText  map[string]string // logical_name -> decoded text content
	ArtifactJSON  map[string][]byte // logical_name -> raw bytes, for MetricSpec.JSONPath lookups
}

// Evaluate runs every gate declared for phase against ctx, producing an
// aggregate result. A single blocking gate makes the overall result
// block; absent that, any warning makes it pass_with_warnings.
func Evaluate(ctx context.Context, policy *models.Policy, phase string, pctx PhaseContext, tools ToolInvoker, audit *AuditLog) (models.EvaluationResult, error) {
	gates := GatesForPhase(policy, phase)
	result := models.EvaluationResult{Overall: models.OverallPass}

	anyWarn := false
	for _, gate := range gates {
		gr, err := evaluateGate(ctx, gate, pctx, tools)
		if err != nil {
			return models.EvaluationResult{}, fmt.Errorf("governance: evaluate gate %s: %w", gate.GateID, err)
		}
		result.Gates = append(result.Gates, gr)

		if audit != nil {
			audit.Append(AuditEntry{
				RunID:     pctx.RunID,
				Phase:     phase,
				GateID:    gate.GateID,
				Threshold: gr.Threshold,
				Actual:    gr.Actual,
				Status:    gr.Status,
				Timestamp: time.Now().UTC(),
			})
		}

		switch gr.Status {
		case models.GateStatusBlock:
			result.Overall = models.OverallBlock
		case models.GateStatusWarn:
			anyWarn = true
		}
	}

	if result.Overall != models.OverallBlock && anyWarn {
		result.Overall = models.OverallPassWithWarnings
	}
	return result, nil
}

func evaluateGate(ctx context.Context, gate models.Gate, pctx PhaseContext, tools ToolInvoker) (models.GateResult, error) {
	switch gate.Kind {
	case models.GateKindMetric:
		return evaluateMetricGate(gate, pctx)
	case models.GateKindTool:
		return evaluateToolGate(ctx, gate, pctx, tools)
	case models.GateKindValidator:
		return evaluateValidatorGate(gate, pctx)
	default:
		return models.GateResult{}, fmt.Errorf("unknown gate kind %q", gate.Kind)
	}
}

func evaluateMetricGate(gate models.Gate, pctx PhaseContext) (models.GateResult, error) {
	spec := gate.Metric
	if spec == nil {
		return models.GateResult{}, fmt.Errorf("gate %s declares kind metric without a metric spec", gate.GateID)
	}

	raw, ok := pctx.ArtifactJSON[spec.ArtifactName]
	if !ok {
		return blockResult(gate, fmt.Sprintf("artifact %q not found for metric gate", spec.ArtifactName)), nil
	}

	actual, err := extractJSONNumber(raw, spec.JSONPath)
	if err != nil {
		return blockResult(gate, fmt.Sprintf("metric extraction failed: %v", err)), nil
	}

	pass := compare(actual, spec.Comparator, spec.Threshold)
	status := models.GateStatusPass
	msg := fmt.Sprintf("%s %s %s %.2f: actual %.2f", spec.ArtifactName, spec.JSONPath, spec.Comparator, spec.Threshold, actual)
	if !pass {
		status = statusForFailure(gate.OnFailure)
	}
	return models.GateResult{
		GateID:      gate.GateID,
		Status:      status,
		Message:     msg,
		Remediation: remediationFor(gate, msg),
		Actual:      actual,
		Threshold:   spec.Threshold,
	}, nil
}

func evaluateToolGate(ctx context.Context, gate models.Gate, pctx PhaseContext, tools ToolInvoker) (models.GateResult, error) {
	spec := gate.Tool
	if spec == nil {
		return models.GateResult{}, fmt.Errorf("gate %s declares kind tool without a tool spec", gate.GateID)
	}
	if tools == nil {
		return blockResult(gate, "no tool invoker configured for tool gate"), nil
	}

	out, err := tools.InvokeTool(ctx, spec.ToolName, spec.Args)
	if err != nil {
		return blockResult(gate, fmt.Sprintf("tool %q invocation failed: %v", spec.ToolName, err)), nil
	}

	val, ok := out[spec.ResultField]
	if !ok {
		return blockResult(gate, fmt.Sprintf("tool %q result missing field %q", spec.ToolName, spec.ResultField)), nil
	}

	pass := fmt.Sprintf("%v", val) == spec.ExpectedPass
	status := models.GateStatusPass
	msg := fmt.Sprintf("tool %s field %s = %v (expected %v)", spec.ToolName, spec.ResultField, val, spec.ExpectedPass)
	if !pass {
		status = statusForFailure(gate.OnFailure)
	}
	return models.GateResult{GateID: gate.GateID, Status: status, Message: msg, Remediation: remediationFor(gate, msg)}, nil
}

func evaluateValidatorGate(gate models.Gate, pctx PhaseContext) (models.GateResult, error) {
	spec := gate.Validator
	if spec == nil {
		return models.GateResult{}, fmt.Errorf("gate %s declares kind validator without a validator spec", gate.GateID)
	}

	scope := pctx.ArtifactText
	if len(spec.ArtifactNames) > 0 {
		scope = make(map[string]string, len(spec.ArtifactNames))
		for _, name := range spec.ArtifactNames {
			if content, ok := pctx.ArtifactText[name]; ok {
				scope[name] = content
			}
		}
	}

	if len(spec.DisallowedPatterns) > 0 {
		if msg := scanDisallowed(spec.DisallowedPatterns, scope); msg != "" {
			return models.GateResult{GateID: gate.GateID, Status: statusForFailure(gate.OnFailure), Message: msg, Remediation: remediationFor(gate, msg)}, nil
		}
	}

	if len(spec.RequiredAttributes) > 0 {
		if missing := scanRequiredAttributes(spec.RequiredAttributes, scope); len(missing) > 0 {
			msg := fmt.Sprintf("missing required attributes: %v", missing)
			return models.GateResult{GateID: gate.GateID, Status: statusForFailure(gate.OnFailure), Message: msg, Remediation: remediationFor(gate, msg)}, nil
		}
	}

	return models.GateResult{GateID: gate.GateID, Status: models.GateStatusPass, Message: "validator checks passed"}, nil
}

func statusForFailure(mode models.GateFailureMode) models.GateResultStatus {
	if mode == models.OnFailureWarn {
		return models.GateStatusWarn
	}
	return models.GateStatusBlock
}

func blockResult(gate models.Gate, msg string) models.GateResult {
	return models.GateResult{GateID: gate.GateID, Status: statusForFailure(gate.OnFailure), Message: msg, Remediation: remediationFor(gate, msg)}
}

func remediationFor(gate models.Gate, msg string) string {
	if gate.OnFailure == models.OnFailureWarn {
		return ""
	}
	return "resolve: " + msg
}

func compare(actual float64, comparator string, threshold float64) bool {
	switch comparator {
	case "gte":
		return actual >= threshold
	case "lte":
		return actual <= threshold
	case "gt":
		return actual > threshold
	case "lt":
		return actual < threshold
	case "eq":
		return actual == threshold
	default:
		return false
	}
}

// extractJSONNumber does a minimal dotted-path lookup into a JSON
// document, just deep enough for the flat coverage/score-style metrics
// a gate can reference. It does not support array indices.
func extractJSONNumber(raw []byte, path string) (float64, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse artifact json: %w", err)
	}

	segments := splitPath(path)
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("path %q: %q is not an object", path, seg)
		}
		cur, ok = m[seg]
		if !ok {
			return 0, fmt.Errorf("path %q: key %q not found", path, seg)
		}
	}

	num, ok := cur.(float64)
	if !ok {
		return 0, fmt.Errorf("path %q: value is not numeric", path)
	}
	return num, nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
