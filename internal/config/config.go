// Package config loads signer profiles: the hash, padding and key store
// settings shared by the msgsign commands.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
	"github.com/remiblancher/msgsigner/pkg/signer"
)

// Profile is the YAML representation of a signer profile.
type Profile struct {
	Hash               string `yaml:"hash"`
	Padding            string `yaml:"padding,omitempty"`     // "pkcs1" or "pss"
	SaltLength         *int   `yaml:"salt_length,omitempty"` // PSS only, defaults to the hash size
	AlternateECDSAForm bool   `yaml:"alternate_ecdsa_form,omitempty"`
	AcceptNullSigned   bool   `yaml:"accept_null_signed,omitempty"`

	// KeyStore is the directory of the software key storage provider.
	// Empty keeps keys in memory.
	KeyStore string `yaml:"key_store,omitempty"`

	// Passphrase protects stored keys. "env:NAME" reads it from NAME.
	Passphrase string `yaml:"passphrase,omitempty"`

	// HSMConfig points at a PKCS#11 provider configuration file, relative
	// to the profile when not absolute.
	HSMConfig string `yaml:"hsm_config,omitempty"`

	LegacyProviders []LegacyProvider `yaml:"legacy_providers,omitempty"`
}

// LegacyProvider declares a file-backed legacy container provider.
type LegacyProvider struct {
	Name string `yaml:"name"`
	Type uint32 `yaml:"type"` // 1 (RSA full), 3 (DSS), 13 (DSS/DH) or 24 (RSA/AES)
	Dir  string `yaml:"dir"`
}

// Default returns the profile used when no file is given.
func Default() *Profile {
	return &Profile{Hash: string(algid.DefaultHash), Padding: "pkcs1"}
}

// Load reads and validates a profile file. Relative paths inside the file
// are resolved against the file's directory.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signer profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p.resolvePaths(filepath.Dir(path))
	return p, nil
}

// Parse parses and validates YAML profile data.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse signer profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signer profile: %w", err)
	}
	return p, nil
}

// Validate checks the algorithm settings and provider declarations.
func (p *Profile) Validate() error {
	if _, err := p.HashAlgorithm(); err != nil {
		return err
	}
	pad, err := p.PaddingScheme()
	if err != nil {
		return err
	}
	if p.SaltLength != nil {
		if pad != algid.PaddingPSS {
			return fmt.Errorf("salt_length requires padding: pss")
		}
		if *p.SaltLength < 0 {
			return fmt.Errorf("salt_length must not be negative: %d", *p.SaltLength)
		}
	}

	seen := make(map[string]bool)
	for i, lp := range p.LegacyProviders {
		if lp.Name == "" {
			return fmt.Errorf("legacy_providers[%d]: name is required", i)
		}
		if lp.Name == keystore.DefaultProviderName || seen[lp.Name] {
			return fmt.Errorf("legacy_providers[%d]: duplicate provider name %q", i, lp.Name)
		}
		seen[lp.Name] = true
		switch lp.Type {
		case keystore.ProvRSAFull, keystore.ProvDSS, keystore.ProvDSSDH, keystore.ProvRSAAES:
		default:
			return fmt.Errorf("legacy_providers[%d]: unsupported provider type %d", i, lp.Type)
		}
	}
	return nil
}

// HashAlgorithm returns the configured hash, SHA256 when unset.
func (p *Profile) HashAlgorithm() (algid.HashAlgorithm, error) {
	if p.Hash == "" {
		return algid.DefaultHash, nil
	}
	return algid.ParseHashAlgorithm(p.Hash)
}

// PaddingScheme returns the configured RSA padding. An empty value is PKCS1.
func (p *Profile) PaddingScheme() (algid.Padding, error) {
	if p.Padding == "" {
		return algid.PaddingPKCS1, nil
	}
	pad, err := algid.ParsePadding(p.Padding)
	if err != nil {
		return algid.PaddingNone, err
	}
	if pad == algid.PaddingNone {
		return algid.PaddingPKCS1, nil
	}
	return pad, nil
}

func (p *Profile) resolvePaths(base string) {
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(base, path)
	}
	p.KeyStore = abs(p.KeyStore)
	p.HSMConfig = abs(p.HSMConfig)
	for i := range p.LegacyProviders {
		p.LegacyProviders[i].Dir = abs(p.LegacyProviders[i].Dir)
	}
}

// Registry builds the provider registry described by the profile. A PKCS#11
// provider is only loaded when hsm_config is set.
func (p *Profile) Registry() (*keystore.Registry, error) {
	passphrase := keystore.ResolvePassphrase(p.Passphrase)
	reg := keystore.NewRegistryWithSoftware(keystore.NewSoftwareKSP(p.KeyStore, passphrase))

	for _, lp := range p.LegacyProviders {
		csp := keystore.NewSoftwareCSP(lp.Name, lp.Type, lp.Dir, passphrase)
		if err := reg.RegisterCSP(csp); err != nil {
			return nil, fmt.Errorf("failed to register legacy provider %q: %w", lp.Name, err)
		}
	}

	if p.HSMConfig != "" {
		cfg, err := keystore.LoadHSMConfig(p.HSMConfig)
		if err != nil {
			return nil, err
		}
		if _, err := reg.LoadHSM(cfg); err != nil {
			return nil, fmt.Errorf("failed to load HSM provider: %w", err)
		}
	}
	return reg, nil
}

// Options returns signer options for the profile.
func (p *Profile) Options(reg *keystore.Registry, logger *slog.Logger) *signer.Options {
	return &signer.Options{
		Registry:           reg,
		Logger:             logger,
		AcceptNullSigned:   p.AcceptNullSigned,
		AlternateECDSAForm: p.AlternateECDSAForm,
	}
}

// Apply sets the padding and salt length of s.
func (p *Profile) Apply(s *signer.Signer) error {
	pad, err := p.PaddingScheme()
	if err != nil {
		return err
	}
	s.SetPadding(pad)
	if p.SaltLength != nil {
		return s.SetSaltLength(*p.SaltLength)
	}
	return nil
}
