package keystore

import (
	"errors"
	"fmt"
)

// Sentinel errors for key resolution.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrPrivateKeyUnavailable indicates that no usable private-key source exists.
	ErrPrivateKeyUnavailable = errors.New("private key unavailable")

	// ErrKeyImportFailure indicates that a public key could not be imported.
	ErrKeyImportFailure = errors.New("key import failure")

	// ErrKeyNotFound indicates that a provider has no key or container by that name.
	ErrKeyNotFound = errors.New("key not found")

	// ErrProviderNotFound indicates that no provider is registered under a name.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrTranslationRefused indicates a legacy context that cannot be opened
	// through the modern provider interface.
	ErrTranslationRefused = errors.New("legacy key translation refused")

	// ErrHandleClosed indicates use of a released key handle.
	ErrHandleClosed = errors.New("key handle closed")
)

// KeyError carries the operation and key name of a resolver failure.
type KeyError struct {
	Op   string // "open", "import", "acquire", "translate", "generate"
	Name string // key, container or provider name
	Err  error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("keystore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keystore %s %q: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *KeyError) Unwrap() error { return e.Err }
