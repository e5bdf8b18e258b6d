package config

import "fmt"

// LoadError names the config file that failed to load or parse.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config: loading %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError wraps err with the offending file name.
func NewLoadError(file string, err error) error {
	return &LoadError{File: file, Err: err}
}
