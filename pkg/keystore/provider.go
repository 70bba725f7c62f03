// Package keystore resolves key handles for the signer.
//
// Two key-handle models coexist. A KeyStorageProvider (modern model) hands
// out opaque ProviderKey handles addressed by name. A CryptoServiceProvider
// (legacy model) hands out LegacyContext handles addressed by the
// (provider name, container name, provider type) triple. The Resolver is the
// only component that knows the difference; callers receive a KeyHandle.
package keystore

import (
	"crypto"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// DefaultProviderName is the name of the software key storage provider that
// every Registry carries and that public keys are imported into.
const DefaultProviderName = "Software Key Storage Provider"

// PaddingInfo is passed to RSA sign and verify calls on a ProviderKey.
// It is nil for DSA and ECDSA.
type PaddingInfo struct {
	Scheme     algid.Padding
	Hash       algid.HashAlgorithm
	SaltLength int // PSS only
}

// KeyStorageProvider is the modern key storage contract.
type KeyStorageProvider interface {
	// Name returns the registered provider name.
	Name() string

	// OpenKey opens a persisted private key by name.
	OpenKey(name string) (ProviderKey, error)

	// ImportPublicKey imports a DER SubjectPublicKeyInfo as a public-only key.
	ImportPublicKey(spki []byte) (ProviderKey, error)

	// TranslateLegacy opens the key behind a legacy context. Providers that
	// cannot reach the legacy key material return ErrTranslationRefused.
	TranslateLegacy(ctx LegacyContext) (ProviderKey, error)
}

// ProviderKey is an opened modern key.
//
// SignHash follows the two-phase sizing convention: with a nil out buffer it
// returns the required signature length; with a buffer at least that large
// it writes the signature and returns the number of bytes written. DSA and
// ECDSA signatures are the fixed-width concatenation r||s.
type ProviderKey interface {
	Algorithm() algid.KeyAlgorithm
	Public() crypto.PublicKey
	SignHash(pad *PaddingInfo, digest, out []byte) (int, Status)
	VerifySignature(pad *PaddingInfo, digest, sig []byte) Status
	Free() error
}

// Legacy provider types.
const (
	ProvRSAFull uint32 = 1
	ProvDSS     uint32 = 3
	ProvDSSDH   uint32 = 13
	ProvRSAAES  uint32 = 24
)

// ContainerRef addresses a key in the legacy model.
type ContainerRef struct {
	Provider     string
	Container    string
	ProviderType uint32
}

// CryptoServiceProvider is the legacy key container contract.
type CryptoServiceProvider interface {
	Name() string
	Type() uint32
	AcquireContext(container string) (LegacyContext, error)
}

// LegacyContext is an acquired legacy key container.
//
// SignHash signs a precomputed digest. RSA contexts always use PKCS#1 v1.5
// keyed by the hash name; DSA contexts only accept SHA1 and return r||s.
type LegacyContext interface {
	Container() ContainerRef
	Algorithm() algid.KeyAlgorithm
	Public() crypto.PublicKey
	SignHash(hash algid.HashAlgorithm, digest []byte) ([]byte, Status)
	Release() error
}
