package binfmt

import "errors"

var (
	// ErrTruncated reports fewer bytes available than a structure requires.
	ErrTruncated = errors.New("truncated read")

	// ErrMalformed reports internally inconsistent size/count/offset fields
	// caught by bounds checks before use.
	ErrMalformed = errors.New("malformed header")

	// ErrUnsupportedFormat reports a recognized but unimplemented format,
	// such as PE.
	ErrUnsupportedFormat = errors.New("unsupported binary format")
)
