package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitializeComposesThreeLayerPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "engine.yaml"), "concurrency_limit: 6\n")
	writeFile(t, filepath.Join(dir, "policies", "universal.yaml"), "require_security_scan: false\nbase_rosters:\n  development: [developer]\n")
	writeFile(t, filepath.Join(dir, "policies", "org.yaml"), "require_security_scan: true\n")
	writeFile(t, filepath.Join(dir, "policies", "clients", "acme.yaml"), "base_rosters:\n  development: [developer, qa]\n")

	cfg, err := Initialize(context.Background(), dir, "acme")
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Engine.ConcurrencyLimit)
	assert.True(t, cfg.Policy.RequireSecurityScan)
	assert.Equal(t, []string{"developer", "qa"}, cfg.Policy.BaseRosters["development"])
}

func TestInitializeAppliesDefaultsWhenEngineYAMLAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policies", "universal.yaml"), "base_rosters: {}\n")

	cfg, err := Initialize(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig().ConcurrencyLimit, cfg.Engine.ConcurrencyLimit)
}

func TestLoadPoliciesExpandsEnvVars(t *testing.T) {
	t.Setenv("KESTREL_TEST_TOOL_TOKEN", "secret-value")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "universal.yaml"), "settings:\n  tool_token: ${KESTREL_TEST_TOOL_TOKEN}\n")

	policy, err := LoadPolicies(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", policy.Settings["tool_token"])
}

func TestLoadPoliciesMissingClientLayerIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "universal.yaml"), "base_rosters: {}\n")

	_, err := LoadPolicies(dir, "no-such-client")
	require.NoError(t, err)
}
