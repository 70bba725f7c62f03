package keystore

import (
	"crypto"
	"sync"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// KeyHandle is an exclusively owned native key. The only implementations
// are *ModernHandle and *LegacyHandle.
type KeyHandle interface {
	Algorithm() algid.KeyAlgorithm
	Public() crypto.PublicKey
	// Legacy reports whether the handle uses the legacy container model.
	Legacy() bool
	// Close releases the native key. It is safe to call more than once.
	Close() error

	keyHandle()
}

// ModernHandle is a provider key opened through a KeyStorageProvider.
type ModernHandle struct {
	mu       sync.Mutex
	provider string
	key      ProviderKey
	alg      algid.KeyAlgorithm
	pub      crypto.PublicKey
	closed   bool
}

// NewModernHandle takes ownership of key.
func NewModernHandle(provider string, key ProviderKey) *ModernHandle {
	return &ModernHandle{
		provider: provider,
		key:      key,
		alg:      key.Algorithm(),
		pub:      key.Public(),
	}
}

func (*ModernHandle) keyHandle() {}

// Provider returns the name of the provider that opened the key.
func (h *ModernHandle) Provider() string { return h.provider }

// Algorithm returns the key algorithm.
func (h *ModernHandle) Algorithm() algid.KeyAlgorithm { return h.alg }

// Public returns the public key.
func (h *ModernHandle) Public() crypto.PublicKey { return h.pub }

// Legacy returns false.
func (h *ModernHandle) Legacy() bool { return false }

// Key returns the underlying provider key, or ErrHandleClosed.
func (h *ModernHandle) Key() (ProviderKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	return h.key, nil
}

// Close frees the provider key once.
func (h *ModernHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.key.Free()
}

// LegacyHandle is an acquired legacy container that could not be translated
// into a modern key.
type LegacyHandle struct {
	mu     sync.Mutex
	ref    ContainerRef
	ctx    LegacyContext
	alg    algid.KeyAlgorithm
	pub    crypto.PublicKey
	closed bool
}

// NewLegacyHandle takes ownership of ctx.
func NewLegacyHandle(ctx LegacyContext) *LegacyHandle {
	return &LegacyHandle{
		ref: ctx.Container(),
		ctx: ctx,
		alg: ctx.Algorithm(),
		pub: ctx.Public(),
	}
}

func (*LegacyHandle) keyHandle() {}

// Ref returns the (provider, container, type) triple.
func (h *LegacyHandle) Ref() ContainerRef { return h.ref }

// Algorithm returns the key algorithm.
func (h *LegacyHandle) Algorithm() algid.KeyAlgorithm { return h.alg }

// Public returns the public key.
func (h *LegacyHandle) Public() crypto.PublicKey { return h.pub }

// Legacy returns true.
func (h *LegacyHandle) Legacy() bool { return true }

// Context returns the legacy context, or ErrHandleClosed.
func (h *LegacyHandle) Context() (LegacyContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	return h.ctx, nil
}

// Close releases the legacy context once.
func (h *LegacyHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.ctx.Release()
}
