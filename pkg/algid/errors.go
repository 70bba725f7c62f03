package algid

import "errors"

// Sentinel errors for AlgorithmIdentifier operations.
var (
	// ErrUnsupportedAlgorithm indicates an OID, key type or hash outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrMalformedAlgorithmIdentifier indicates the DER violates the expected structure.
	ErrMalformedAlgorithmIdentifier = errors.New("malformed algorithm identifier")
)
