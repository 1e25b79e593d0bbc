package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide how to surface them.
type Kind string

const (
	KindMissingPrerequisite  Kind = "missing_prerequisite"
	KindSubmissionFailed     Kind = "submission_failed"
	KindTransportError       Kind = "transport_error"
	KindUnknownStatus        Kind = "unknown_status"
	KindStreamParseError     Kind = "stream_parse_error"
	KindStreamTransportError Kind = "stream_transport_error"
)

// Sentinels for use with errors.Is.
var (
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrSubmissionFailed    = errors.New("submission failed")
	ErrTransport           = errors.New("transport error")
	ErrUnknownStatus       = errors.New("unknown status")
	ErrStreamParse         = errors.New("stream parse error")
	ErrStreamTransport     = errors.New("stream transport error")
)

var sentinels = map[Kind]error{
	KindMissingPrerequisite:  ErrMissingPrerequisite,
	KindSubmissionFailed:     ErrSubmissionFailed,
	KindTransportError:       ErrTransport,
	KindUnknownStatus:        ErrUnknownStatus,
	KindStreamParseError:     ErrStreamParse,
	KindStreamTransportError: ErrStreamTransport,
}

// Error is a classified failure. Message is user-facing; Err is the cause.
type Error struct {
	Kind    Kind
	Field   string // set for MissingPrerequisite: which input was absent
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Missing builds a MissingPrerequisite error naming the absent field.
func Missing(field, message string) *Error {
	return &Error{Kind: KindMissingPrerequisite, Field: field, Message: message}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, or "" if err is not one.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
