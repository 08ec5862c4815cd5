package vstore

import "github.com/pkg/errors"

var (
	// ErrStreamNotReady is recorded when the bound stream fails or reports
	// itself not ready after a read or write.
	ErrStreamNotReady = errors.New("stream not ready")

	// ErrUnsupportedSizeQuery is a contract violation: a size-only pass met a
	// tracked reference and there is no store bound to answer for the pointee.
	ErrUnsupportedSizeQuery = errors.New("size-only pass over a tracked reference requires a bound store")

	// ErrTypeMismatch is recorded when an identifier that was already
	// materialized is requested again as a different type.
	ErrTypeMismatch = errors.New("identifier materialized as a different type")

	// ErrDanglingReference is returned by a store asked to materialize an
	// identifier it does not know.
	ErrDanglingReference = errors.New("reference to unknown identifier")

	ErrBadLength = errors.New("invalid length prefix")
)
