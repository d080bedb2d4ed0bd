package pipeline

import "fmt"

// ValidationError means the triggering request or work item payload was
// unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConfigurationError means required settings were absent or inconsistent
// at the point of use.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// UpstreamError wraps a failure from the tracking system or the model.
type UpstreamError struct {
	System string
	Op     string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s: %v", e.System, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure writing to the execution store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PartialCreationError records a child item that exists in the tracking
// system but could not be linked under its parent. The batch is not
// rolled back; the orphaned child keeps its id.
type PartialCreationError struct {
	ChildID string
	Err     error
}

func (e *PartialCreationError) Error() string {
	return fmt.Sprintf("partial creation: child %s created but not linked to parent: %v", e.ChildID, e.Err)
}

func (e *PartialCreationError) Unwrap() error { return e.Err }
