package main

import (
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/remiblancher/msgsigner/internal/cli"
	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
	"github.com/remiblancher/msgsigner/pkg/signer"
)

// keySource names the private key of a sign operation.
type keySource struct {
	certPath     string
	provider     string
	keyName      string
	container    string
	providerType uint32
}

func (k keySource) validate() error {
	if k.keyName == "" && k.container == "" {
		return errors.New("--key or --container is required")
	}
	return nil
}

// newSigner builds a Signer for src. With a certificate the key is bound to
// it; otherwise the public key is read from the provider and the key is
// treated as a pending request.
func newSigner(reg *keystore.Registry, src keySource, hash algid.HashAlgorithm) (*signer.Signer, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	opts := profile.Options(reg, logger)

	if src.certPath != "" {
		cert, err := cli.LoadCertFromPath(src.certPath)
		if err != nil {
			return nil, err
		}
		binding := keystore.KeyBinding{
			Provider:     src.provider,
			KeyName:      src.keyName,
			Container:    src.container,
			ProviderType: src.providerType,
		}
		return signer.NewFromCertificate(keystore.NewStoreCertificate(cert, binding, reg), hash, opts)
	}

	name := src.keyName
	if name == "" {
		name = src.container
	}
	info, err := providerPublicKey(reg, src.provider, name)
	if err != nil {
		return nil, err
	}
	return signer.NewFromKeyRequest(&keystore.KeyRequest{
		ProviderName:  src.provider,
		ContainerName: name,
		ProviderType:  src.providerType,
		PublicKey:     info,
	}, hash, opts)
}

// providerPublicKey reads the public half of a stored key, trying the modern
// provider first and then a legacy container of the same name.
func providerPublicKey(reg *keystore.Registry, provider, name string) (*keystore.PublicKeyInfo, error) {
	var errs []error

	if ksp, err := reg.KSP(provider); err == nil {
		key, err := ksp.OpenKey(name)
		if err == nil {
			pub := key.Public()
			_ = key.Free()
			return keystore.NewPublicKeyInfo(pub)
		}
		errs = append(errs, err)
	} else {
		errs = append(errs, err)
	}

	if csp, err := reg.CSP(provider); err == nil {
		ctx, err := csp.AcquireContext(name)
		if err == nil {
			pub := ctx.Public()
			_ = ctx.Release()
			return keystore.NewPublicKeyInfo(pub)
		}
		errs = append(errs, err)
	} else {
		errs = append(errs, err)
	}

	return nil, fmt.Errorf("key %q not found: %w", name, errors.Join(errs...))
}

// resolveHash returns the flag value when set, else the profile hash.
func resolveHash(flag string) (algid.HashAlgorithm, error) {
	if flag != "" {
		return algid.ParseHashAlgorithm(flag)
	}
	return profile.HashAlgorithm()
}

// configure applies the profile and the padding/salt flag overrides.
func configure(s *signer.Signer, padding string, saltLength int) error {
	if err := profile.Apply(s); err != nil {
		return err
	}
	if padding != "" {
		pad, err := algid.ParsePadding(padding)
		if err != nil {
			return err
		}
		s.SetPadding(pad)
	}
	if saltLength >= 0 {
		return s.SetSaltLength(saltLength)
	}
	return nil
}

// parseKeyAlgorithm parses "rsa", "dsa" or "ecdsa".
func parseKeyAlgorithm(s string) (algid.KeyAlgorithm, error) {
	switch strings.ToLower(s) {
	case "rsa":
		return algid.KeyRSA, nil
	case "dsa":
		return algid.KeyDSA, nil
	case "ecdsa", "ec":
		return algid.KeyECDSA, nil
	default:
		return algid.KeyUnknown, fmt.Errorf("unknown key algorithm: %s", s)
	}
}

// derFromPEMOrRaw returns the DER inside a PEM block, or data unchanged.
func derFromPEMOrRaw(data []byte) []byte {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes
	}
	return data
}

// closeSigner releases the signer's key handles, logging a failure.
func closeSigner(s *signer.Signer) {
	if err := s.Close(); err != nil {
		logger.Warn("failed to release signer keys", "error", err)
	}
}
