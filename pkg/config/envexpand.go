package config

import "os"

// ExpandEnv expands environment variables in YAML content before parsing,
// supporting both ${VAR} and $VAR shell-style syntax. A secret referenced
// from a policy file (e.g. a tool API key) never needs to be committed in
// plaintext.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
