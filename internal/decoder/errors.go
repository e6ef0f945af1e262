package decoder

import (
	"errors"
	"fmt"
)

type Class string

const (
	ClassMalformed     Class = "malformed"
	ClassTruncated     Class = "truncated"
	ClassUnknownDevice Class = "unknown_device"
)

// DecodeError classifies why a packet could not become an envelope.
type DecodeError struct {
	Class Class
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ClassOf returns the failure class of err, or "" when err is not a decode error.
func ClassOf(err error) Class {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Class
	}
	return ""
}

func malformed(format string, args ...any) error {
	return &DecodeError{Class: ClassMalformed, Err: fmt.Errorf(format, args...)}
}

func truncated(err error) error {
	return &DecodeError{Class: ClassTruncated, Err: err}
}
