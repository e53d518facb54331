package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure raised while loading the model or scoring a request.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindLoad
	KindRequest
	KindInference
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindLoad:
		return "load"
	case KindRequest:
		return "request"
	case KindInference:
		return "inference"
	case KindLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

var (
	ErrMissingModelDir = errors.New("model directory not set (AZUREML_MODEL_DIR)")
	ErrNoInputs        = errors.New("model declares no inputs")
	ErrMissingData     = errors.New(`request is missing field "data"`)
	ErrEmptyData       = errors.New("data contains no samples")
	ErrRaggedData      = errors.New("data rows must be non-empty and of equal length")
	ErrNoOutput        = errors.New("model produced no output")
	ErrOutputShape     = errors.New("model output does not have one prediction per row")
	ErrLabelOutOfRange = errors.New("predicted class index out of range")
)

// Error carries a Kind alongside the underlying cause. Its message is the
// cause's message, unchanged.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
