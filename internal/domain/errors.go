// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved indicates a response was submitted for a request that
// already reached a terminal status. Expected under race with the timeout
// scheduler; callers treat it as a normal outcome, not a failure.
var ErrAlreadyResolved = errors.New("request already resolved")

// ErrForbidden indicates the responder is not authorized to resolve the request.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidArgument indicates a structurally invalid request or response.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrUnavailable indicates a transient storage or directory failure.
var ErrUnavailable = errors.New("unavailable")
