package merkle

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classification used throughout the merkle, fetch and mafile
// packages. Every error that crosses a public API boundary is a
// status.Status-backed error carrying one of these codes, following the
// same convention as google.golang.org/grpc/codes used elsewhere in this
// module's error handling.
//
//   FORMAT          -> codes.InvalidArgument   (.mref/.mrkl parse failure)
//   MISMATCH        -> codes.FailedPrecondition (state-vs-ref root disagreement)
//   OUT_OF_BOUNDS   -> codes.OutOfRange         (API misuse: pos >= size)
//   TRANSIENT_NET   -> codes.Unavailable        (retried internally; surfaces as FETCH_FAILED)
//   HASH_MISMATCH   -> codes.DataLoss           (bytes delivered intact, disagree with reference)
//   SIZE_MISMATCH   -> codes.DataLoss           (same disposition as HASH_MISMATCH)
//   IO              -> codes.Internal           (cache/state durability failure)
//   CANCELLED       -> codes.Canceled           (channel close)

// ErrFormat wraps a parse failure of a .mref or .mrkl file.
func ErrFormat(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// ErrMismatch wraps a state-vs-reference root disagreement.
func ErrMismatch(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// ErrHashMismatch wraps a verified-chunk hash disagreement.
func ErrHashMismatch(format string, args ...interface{}) error {
	return status.Errorf(codes.DataLoss, format, args...)
}

// ErrSizeMismatch wraps a fetched-chunk size disagreement.
func ErrSizeMismatch(format string, args ...interface{}) error {
	return status.Errorf(codes.DataLoss, format, args...)
}

// ErrIO wraps a durability failure: a cache or state-file write, read or
// sync that failed at the OS level, as opposed to a parse failure in the
// file's content. Callers distinguish this from ErrFormat by status code
// (codes.Internal vs codes.InvalidArgument), per the table above.
func ErrIO(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}

// IsHashMismatch returns true if err was produced by a failed chunk
// verification (hash or size disagreement), as opposed to a transient
// network or I/O failure. Hash mismatches are never retried: the bytes
// were delivered intact and simply disagree with the reference.
func IsHashMismatch(err error) bool {
	return status.Code(err) == codes.DataLoss
}

// IsCancelled returns true if err denotes that an operation was aborted
// because its channel was closed.
func IsCancelled(err error) bool {
	return status.Code(err) == codes.Canceled
}
