package entities

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaNotFound is returned by the schema store when a tenant has no
// schema, or the requested version does not exist.
var ErrSchemaNotFound = errors.New("schema not found")

// ErrAttributeNotFound is returned by the attribute store when an entity has
// no value for the requested attribute. The resolution engine surfaces it as
// a MissingBinding failure, never as a default value.
var ErrAttributeNotFound = errors.New("attribute not found")

// CompileErrorKind classifies schema compilation failures.
type CompileErrorKind string

const (
	CompileDuplicateName       CompileErrorKind = "duplicate_name"
	CompileUnresolvedTarget    CompileErrorKind = "unresolved_target"
	CompileUnresolvedReference CompileErrorKind = "unresolved_reference"
	CompileTypeMismatch        CompileErrorKind = "type_mismatch"
	CompileMalformedRuleBody   CompileErrorKind = "malformed_rule_body"
)

// CompileError is one schema validation failure with its location in the
// declaration tree (e.g., "entity repository / permission view").
type CompileError struct {
	Location string
	Kind     CompileErrorKind
	Message  string
}

func (e *CompileError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Location, e.Kind, e.Message)
}

// CompileErrors collects every failure found during compilation. All
// validation passes run to completion so tooling can report them together.
type CompileErrors []*CompileError

func (e CompileErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "schema compilation failed:\n" + strings.Join(msgs, "\n")
}

// AsCompileErrors unwraps err into a CompileErrors list if it is one.
func AsCompileErrors(err error) (CompileErrors, bool) {
	var ce CompileErrors
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ResolutionErrorKind classifies Check/Expand failures. A resolution error is
// distinct from a denied decision and must never be collapsed into one.
type ResolutionErrorKind string

const (
	ResolutionTimeout          ResolutionErrorKind = "timeout"
	ResolutionDepthExceeded    ResolutionErrorKind = "depth_exceeded"
	ResolutionCycleDetected    ResolutionErrorKind = "cycle_detected"
	ResolutionSchemaNotFound   ResolutionErrorKind = "schema_not_found"
	ResolutionStoreUnavailable ResolutionErrorKind = "store_unavailable"
	ResolutionMissingBinding   ResolutionErrorKind = "missing_binding"
	ResolutionTypeMismatch     ResolutionErrorKind = "type_mismatch"
	ResolutionInvalidRequest   ResolutionErrorKind = "invalid_request"
)

// ResolutionError is a Check/Expand failure.
type ResolutionError struct {
	Kind    ResolutionErrorKind
	Message string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError builds a ResolutionError with a formatted message.
func NewResolutionError(kind ResolutionErrorKind, format string, args ...interface{}) *ResolutionError {
	return &ResolutionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapResolutionError builds a ResolutionError around an underlying cause.
func WrapResolutionError(kind ResolutionErrorKind, err error, format string, args ...interface{}) *ResolutionError {
	return &ResolutionError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsResolutionError unwraps err into a *ResolutionError if it is one.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// EvalErrorKind classifies rule evaluation failures.
type EvalErrorKind string

const (
	EvalMissingBinding EvalErrorKind = "missing_binding"
	EvalTypeMismatch   EvalErrorKind = "type_mismatch"
)

// EvalError is a rule evaluation failure. It propagates out of Check as a
// ResolutionError rather than an implicit false: an attribute condition
// silently resolving to false on misconfiguration would mask the problem.
type EvalError struct {
	Kind    EvalErrorKind
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rule evaluation failed (%s): %s", e.Kind, e.Message)
}

// AsEvalError unwraps err into an *EvalError if it is one.
func AsEvalError(err error) (*EvalError, bool) {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// ResolutionKindForEvalError maps an eval failure onto the resolution taxonomy.
func ResolutionKindForEvalError(e *EvalError) ResolutionErrorKind {
	if e.Kind == EvalMissingBinding {
		return ResolutionMissingBinding
	}
	return ResolutionTypeMismatch
}
