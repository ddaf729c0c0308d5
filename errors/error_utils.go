// Package errors provides coded errors and utilities for categorizing them.
package errors

import (
	"context"
	"errors"
)

// IsRetryableError determines if an error is transient and the operation should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_TRANSIENT_IO,
			ERR_SERVICE_UNAVAILABLE,
			ERR_STORAGE_UNAVAILABLE:
			return true
		}
	}

	return false
}

// IsLogicalError reports errors that must be surfaced to the caller verbatim and never retried.
func IsLogicalError(err error) bool {
	var tErr *Error
	if !As(err, &tErr) {
		return false
	}

	switch tErr.Code() {
	case ERR_LOCK_TIMEOUT,
		ERR_EMPTY_PAYLOAD,
		ERR_CORRUPTED_CACHE_ENTRY,
		ERR_INVALID_ARGUMENT,
		ERR_NOT_FOUND:
		return true
	}

	return false
}

// LockPath returns the ticket file recorded on a lock timeout error.
func LockPath(err error) (string, bool) {
	var tErr *Error
	if !As(err, &tErr) {
		return "", false
	}

	for e := tErr; e != nil; {
		if e.code == ERR_LOCK_TIMEOUT {
			if p, ok := e.GetData("lock_path").(string); ok {
				return p, true
			}
		}

		next, ok := e.wrappedErr.(*Error)
		if !ok {
			break
		}

		e = next
	}

	return "", false
}
