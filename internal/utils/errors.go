// Package utils holds small helpers shared across the application.
package utils

import "errors"

// ChatError is the error type behind every sentinel error in this
// repository. Sentinels are declared with NewChatError and enriched at the
// call site with WithDetails; errors.Is matches a detailed copy against its
// base sentinel.
type ChatError struct {
	msg     string
	details string
	base    *ChatError
}

func NewChatError(msg string) *ChatError {
	return &ChatError{msg: msg}
}

func (e *ChatError) Error() string {
	if e.details != "" {
		return e.msg + ": " + e.details
	}
	return e.msg
}

// WithDetails returns a copy of the error carrying extra context. The copy
// still matches the original sentinel under errors.Is.
func (e *ChatError) WithDetails(details string) *ChatError {
	base := e
	if e.base != nil {
		base = e.base
	}
	return &ChatError{msg: e.msg, details: details, base: base}
}

func (e *ChatError) Is(target error) bool {
	var ce *ChatError
	if !errors.As(target, &ce) {
		return false
	}
	if e.base != nil {
		return e.base == ce || e.base == ce.base
	}
	return e == ce || e == ce.base
}
