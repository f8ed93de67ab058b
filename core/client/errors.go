package client

import (
	"errors"
	"fmt"
)

var (
	errUnexpectedStatus = errors.New("unexpected status")
	errMissingDate      = errors.New("missing Date header")
	errEmptyBody        = errors.New("empty response body")
)

// A SampleError reports a probe that failed in transport or was answered
// with a non-success status.
type SampleError struct {
	Source string
	Err    error
}

func (e *SampleError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to fetch sample: %v", e.Err)
	}
	return fmt.Sprintf("failed to fetch sample from %s: %v", e.Source, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// A ParseError reports a response whose server time could not be read.
type ParseError struct {
	Source string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("failed to parse server time from %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("failed to parse server time %q from %s: %v", e.Value, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
