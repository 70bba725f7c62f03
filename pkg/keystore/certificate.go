package keystore

import (
	"crypto/x509"
	"errors"
	"fmt"
)

// Certificate is a certificate with an associated private key source.
type Certificate interface {
	// PublicKeyInfo returns the certified public key.
	PublicKeyInfo() (*PublicKeyInfo, error)

	// AcquirePrivateKey returns the associated private key. With preferModern
	// a modern key is returned whenever one is bound; otherwise the legacy
	// container is tried first.
	AcquirePrivateKey(preferModern bool) (KeyHandle, error)
}

// KeyBinding locates the private key of a certificate. A modern binding names
// a provider and key; a legacy binding names a provider, container and
// provider type. Both may be set.
type KeyBinding struct {
	Provider     string `yaml:"provider" json:"provider"`
	KeyName      string `yaml:"key_name,omitempty" json:"key_name,omitempty"`
	Container    string `yaml:"container,omitempty" json:"container,omitempty"`
	ProviderType uint32 `yaml:"provider_type,omitempty" json:"provider_type,omitempty"`
}

// IsModern reports whether the binding names a modern key.
func (b KeyBinding) IsModern() bool { return b.KeyName != "" }

// IsLegacy reports whether the binding names a legacy container.
func (b KeyBinding) IsLegacy() bool { return b.Container != "" }

// StoreCertificate binds an X.509 certificate to keys in a Registry.
type StoreCertificate struct {
	Cert     *x509.Certificate
	Binding  KeyBinding
	Registry *Registry
}

var _ Certificate = (*StoreCertificate)(nil)

// NewStoreCertificate returns a certificate whose private key is located by binding.
func NewStoreCertificate(cert *x509.Certificate, binding KeyBinding, reg *Registry) *StoreCertificate {
	return &StoreCertificate{Cert: cert, Binding: binding, Registry: reg}
}

// PublicKeyInfo returns the certificate's SubjectPublicKeyInfo.
func (c *StoreCertificate) PublicKeyInfo() (*PublicKeyInfo, error) {
	if c.Cert == nil {
		return nil, errors.New("certificate is nil")
	}
	return PublicKeyInfoFromCertificate(c.Cert)
}

// AcquirePrivateKey opens the bound private key.
func (c *StoreCertificate) AcquirePrivateKey(preferModern bool) (KeyHandle, error) {
	b := c.Binding
	if c.Registry == nil || (!b.IsModern() && !b.IsLegacy()) {
		return nil, ErrPrivateKeyUnavailable
	}

	var sources []func() (KeyHandle, error)
	if b.IsModern() {
		sources = append(sources, c.openModern)
	}
	if b.IsLegacy() {
		sources = append(sources, c.openLegacy)
	}
	if !preferModern && len(sources) == 2 {
		sources[0], sources[1] = sources[1], sources[0]
	}

	var errs []error
	for _, open := range sources {
		h, err := open()
		if err == nil {
			return h, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, errors.Join(errs...))
}

func (c *StoreCertificate) openModern() (KeyHandle, error) {
	ksp, err := c.Registry.KSP(c.Binding.Provider)
	if err != nil {
		return nil, err
	}
	key, err := ksp.OpenKey(c.Binding.KeyName)
	if err != nil {
		return nil, err
	}
	return NewModernHandle(ksp.Name(), key), nil
}

func (c *StoreCertificate) openLegacy() (KeyHandle, error) {
	csp, err := c.Registry.CSP(c.Binding.Provider)
	if err != nil {
		return nil, err
	}
	if c.Binding.ProviderType != 0 && csp.Type() != c.Binding.ProviderType {
		return nil, fmt.Errorf("legacy provider %q has type %d, want %d", csp.Name(), csp.Type(), c.Binding.ProviderType)
	}
	ctx, err := csp.AcquireContext(c.Binding.Container)
	if err != nil {
		return nil, err
	}
	return NewLegacyHandle(ctx), nil
}
