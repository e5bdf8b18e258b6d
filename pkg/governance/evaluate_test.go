package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

func TestEvaluateMetricGatePasses(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{{
			GateID:             "coverage",
			Kind:               models.GateKindMetric,
			PhaseApplicability: []string{"qa"},
			OnFailure:          models.OnFailureBlock,
			Metric:             &models.MetricSpec{ArtifactName: "coverage.json", JSONPath: "coverage_pct", Comparator: "gte", Threshold: 80},
		}},
	}
	pctx := PhaseContext{
		RunID:        "run-1",
		ArtifactJSON: map[string][]byte{"coverage.json": []byte(`{"coverage_pct": 92.5}`)},
	}

	audit := NewAuditLog()
	result, err := Evaluate(context.Background(), policy, "qa", pctx, nil, audit)
	require.NoError(t, err)
	assert.Equal(t, models.OverallPass, result.Overall)
	require.Len(t, audit.ForRun("run-1"), 1)
}

func TestEvaluateMetricGateBlocksOnFailure(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{{
			GateID:             "coverage",
			Kind:               models.GateKindMetric,
			PhaseApplicability: []string{"qa"},
			OnFailure:          models.OnFailureBlock,
			Metric:             &models.MetricSpec{ArtifactName: "coverage.json", JSONPath: "coverage_pct", Comparator: "gte", Threshold: 80},
		}},
	}
	pctx := PhaseContext{
		ArtifactJSON: map[string][]byte{"coverage.json": []byte(`{"coverage_pct": 40}`)},
	}

	result, err := Evaluate(context.Background(), policy, "qa", pctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OverallBlock, result.Overall)
	require.Len(t, result.Gates, 1)
	assert.NotEmpty(t, result.Gates[0].Remediation)
}

func TestEvaluateValidatorGateWarnsOnDisallowedPattern(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{{
			GateID:             "brand-colors",
			Kind:               models.GateKindValidator,
			PhaseApplicability: []string{"development"},
			OnFailure:          models.OnFailureWarn,
			Validator:          &models.ValidatorSpec{DisallowedPatterns: []string{`#FF0000`}},
		}},
	}
	pctx := PhaseContext{
		ArtifactText: map[string]string{"theme.css": "body { color: #FF0000; }"},
	}

	result, err := Evaluate(context.Background(), policy, "development", pctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OverallPassWithWarnings, result.Overall)
}

func TestEvaluateValidatorGateRequiredAttributes(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{{
			GateID:             "frontmatter",
			Kind:               models.GateKindValidator,
			PhaseApplicability: []string{"documentation"},
			OnFailure:          models.OnFailureBlock,
			Validator:          &models.ValidatorSpec{RequiredAttributes: []string{"owner:"}},
		}},
	}
	pctx := PhaseContext{
		ArtifactText: map[string]string{"README.md": "title: hello\nbody text"},
	}

	result, err := Evaluate(context.Background(), policy, "documentation", pctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OverallBlock, result.Overall)
}

type stubToolInvoker struct {
	result map[string]any
	err    error
}

func (s stubToolInvoker) InvokeTool(_ context.Context, _ string, _ map[string]string) (map[string]any, error) {
	return s.result, s.err
}

func TestEvaluateToolGateUsesInvoker(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{{
			GateID:             "scanner",
			Kind:               models.GateKindTool,
			PhaseApplicability: []string{"qa"},
			OnFailure:          models.OnFailureBlock,
			Tool:               &models.ToolSpec{ToolName: "sast", ResultField: "status", ExpectedPass: "clean"},
		}},
	}
	tools := stubToolInvoker{result: map[string]any{"status": "clean"}}

	result, err := Evaluate(context.Background(), policy, "qa", PhaseContext{}, tools, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OverallPass, result.Overall)
}
