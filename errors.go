// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package quicr

import (
	"errors"
	"fmt"
)

// A Class identifies the layer at which an error occurred.
type Class string

const (
	ConfigError        Class = "configuration error"  // invalid arguments, reported before any I/O
	ServerError        Class = "server error"         // binding or accepting on the passive endpoint
	ServerSessionError Class = "server session error" // an accepted session failed
	ServerStreamError  Class = "server stream error"  // an accepted stream failed
	ClientError        Class = "client error"         // dialing the remote endpoint failed
	ClientStreamError  Class = "client stream error"  // the request stream failed
)

// Error is the concrete type of errors passed to the error channel of an
// [Events] value. It tags an underlying error with the layer that reported it.
type Error struct {
	Class Class
	Err   error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap reports the underlying error of e.
func (e *Error) Unwrap() error { return e.Err }

// ClassOf reports the class of err if it is or wraps an *Error, or "" if not.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func configError(msg string, args ...any) *Error {
	return &Error{Class: ConfigError, Err: fmt.Errorf(msg, args...)}
}

// ErrReplyDone is reported by a [Reply] that has already been terminated.
var ErrReplyDone = errors.New("reply already sent")
