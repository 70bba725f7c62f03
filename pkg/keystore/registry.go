package keystore

import (
	"fmt"
	"sync"
)

// Registry holds the named key storage providers and legacy providers a
// Resolver can reach. The software provider is always registered under
// DefaultProviderName.
type Registry struct {
	mu       sync.RWMutex
	software *SoftwareKSP
	ksps     map[string]KeyStorageProvider
	csps     map[string]CryptoServiceProvider
}

// NewRegistry returns a registry with an in-memory software provider.
func NewRegistry() *Registry {
	return NewRegistryWithSoftware(NewSoftwareKSP("", nil))
}

// NewRegistryWithSoftware returns a registry around an existing software provider.
func NewRegistryWithSoftware(ksp *SoftwareKSP) *Registry {
	return &Registry{
		software: ksp,
		ksps:     map[string]KeyStorageProvider{ksp.Name(): ksp},
		csps:     make(map[string]CryptoServiceProvider),
	}
}

// Software returns the default software provider.
func (r *Registry) Software() *SoftwareKSP { return r.software }

// RegisterKSP adds a modern provider. The default name cannot be replaced.
func (r *Registry) RegisterKSP(ksp KeyStorageProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ksp.Name()
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if name == DefaultProviderName {
		return fmt.Errorf("provider %q is reserved", name)
	}
	if _, ok := r.ksps[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.ksps[name] = ksp
	return nil
}

// RegisterCSP adds a legacy provider.
func (r *Registry) RegisterCSP(csp CryptoServiceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := csp.Name()
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, ok := r.csps[name]; ok {
		return fmt.Errorf("legacy provider %q already registered", name)
	}
	r.csps[name] = csp
	return nil
}

// KSP returns the modern provider registered under name. An empty name
// selects the software provider.
func (r *Registry) KSP(name string) (KeyStorageProvider, error) {
	if name == "" {
		return r.software, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ksp, ok := r.ksps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return ksp, nil
}

// CSP returns the legacy provider registered under name.
func (r *Registry) CSP(name string) (CryptoServiceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	csp, ok := r.csps[name]
	if !ok {
		return nil, fmt.Errorf("%w: legacy %q", ErrProviderNotFound, name)
	}
	return csp, nil
}

// LoadHSM registers a PKCS#11 provider described by cfg.
func (r *Registry) LoadHSM(cfg *HSMConfig) (*PKCS11KSP, error) {
	ksp, err := NewPKCS11KSP(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.RegisterKSP(ksp); err != nil {
		return nil, err
	}
	return ksp, nil
}
