package lang

import "fmt"

// ConfigurationError reports an invalid directive argument or a directive
// that failed while being replayed onto an instance. It always names the
// declaring type so the offending declaration can be located without
// re-running in verbose mode.
type ConfigurationError struct {
	TypeName  string
	Directive string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in type %q (directive %s): %v", e.TypeName, e.Directive, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MutationError reports a failed attribute mutation: a glob pattern that
// matched zero keys, a type-mismatched replacement value, or a target
// attribute that lacks the required capability. Attr is the attribute path
// that was attempted, e.g. "software_specs[hpl]".
type MutationError struct {
	Attr string
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation of %s failed: %v", e.Attr, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
