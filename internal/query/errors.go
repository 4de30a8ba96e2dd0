package query

import "errors"

var (
	// ErrUnknownField rejects filter or sort fields outside the resource
	// whitelist. Unknown fields fail fast; they are never silently ignored,
	// which would mask caller mistakes as "no results".
	ErrUnknownField = errors.New("query: unknown field")

	ErrInvalidValue      = errors.New("query: invalid value")
	ErrInvalidPagination = errors.New("query: invalid pagination")

	// Executor contract errors. Adapters map driver-level failures onto
	// these so the engine can tell a timeout apart from business failures.
	ErrStoreTimeout     = errors.New("query: store timeout")
	ErrStoreUnavailable = errors.New("query: store unavailable")

	// ErrStoreCanceled marks operations aborted because the caller gave up.
	// Never retried and never reported as a server fault.
	ErrStoreCanceled = errors.New("query: store operation canceled")
)
