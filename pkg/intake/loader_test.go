package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLHappyPath(t *testing.T) {
	doc := []byte(`
project_name: "Q3 forecast"
project_type: analytics
environment: staging
requirements:
  - "monthly forecast"
`)
	loaded, err := Load(doc)
	require.NoError(t, err)
	assert.Equal(t, "Q3 forecast", loaded.Intake.ProjectName)
	assert.NotEmpty(t, loaded.IntakeDigest)
}

func TestLoadJSONHappyPath(t *testing.T) {
	doc := []byte(`{"project_name": "Q3 forecast", "project_type": "analytics"}`)
	loaded, err := Load(doc)
	require.NoError(t, err)
	assert.Equal(t, "Q3 forecast", loaded.Intake.ProjectName)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	doc := []byte(`
project_name: "p"
project_type: analytics
totally_unrecognized_section: true
`)
	_, err := Load(doc)
	require.Error(t, err)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	doc := []byte(`project_type: analytics`)
	_, err := Load(doc)
	require.Error(t, err)
	var ierr *IntakeError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "ProjectName", ierr.Field)
}

func TestLoadRejectsInvalidProjectType(t *testing.T) {
	doc := []byte(`
project_name: "p"
project_type: mobile_app
`)
	_, err := Load(doc)
	require.Error(t, err)
}

func TestDigestIsDeterministicRegardlessOfKeyOrder(t *testing.T) {
	a, err := Load([]byte(`{"project_name": "p", "project_type": "analytics", "requirements": ["x", "y"]}`))
	require.NoError(t, err)
	b, err := Load([]byte(`{"project_type": "analytics", "requirements": ["x", "y"], "project_name": "p"}`))
	require.NoError(t, err)
	assert.Equal(t, a.IntakeDigest, b.IntakeDigest)
}
