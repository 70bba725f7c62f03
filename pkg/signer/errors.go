package signer

import (
	"errors"
	"fmt"

	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// SignerError represents a signer operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type SignerError struct {
	Op  string // Operation: "new", "configure", "sign", "verify", "close"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *SignerError) Error() string {
	return fmt.Sprintf("signer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SignerError) Unwrap() error { return e.Err }

func newError(op string, err error) *SignerError {
	return &SignerError{Op: op, Err: err}
}

// StatusError carries the native status code of a failed provider call.
// A "sign" StatusError matches ErrSigningFailure and a "verify" StatusError
// matches ErrVerificationFailure.
type StatusError struct {
	Op     string
	Status keystore.Status
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("native %s call failed: %s (0x%08X)", e.Op, e.Status, uint32(e.Status))
}

// Is reports whether target is the failure sentinel for e.Op.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrSigningFailure:
		return e.Op == "sign"
	case ErrVerificationFailure:
		return e.Op == "verify"
	default:
		return false
	}
}

// Sentinel errors for signer operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrArgumentNull indicates that a required buffer was nil.
	ErrArgumentNull = errors.New("required argument is nil")

	// ErrSigningFailure indicates that the provider refused to sign.
	ErrSigningFailure = errors.New("signing failure")

	// ErrVerificationFailure indicates a provider-level verification failure,
	// as opposed to a signature that does not match.
	ErrVerificationFailure = errors.New("verification failure")

	// ErrNullSignedNotAllowed indicates a bare hash AlgorithmIdentifier
	// applied to a signer that does not accept null-signed data.
	ErrNullSignedNotAllowed = errors.New("null-signed algorithm identifier not allowed")

	// ErrMalformedSignedData indicates a signed structure or COSE message
	// that cannot be parsed.
	ErrMalformedSignedData = errors.New("malformed signed data")

	// ErrClosed indicates use of a closed signer.
	ErrClosed = errors.New("signer closed")
)

// Errors surfaced from the packages the signer is built on.
var (
	ErrUnsupportedAlgorithm         = algid.ErrUnsupportedAlgorithm
	ErrMalformedAlgorithmIdentifier = algid.ErrMalformedAlgorithmIdentifier
	ErrPrivateKeyUnavailable        = keystore.ErrPrivateKeyUnavailable
	ErrKeyImportFailure             = keystore.ErrKeyImportFailure
)
