package keystore

import (
	"errors"
	"fmt"
)

// KeyRequest describes a pending key-generation request whose private key
// already exists in a provider.
type KeyRequest struct {
	ProviderName  string
	ContainerName string
	ProviderType  uint32
	PublicKey     *PublicKeyInfo
}

// Validate checks that the request names a key and carries its public key.
func (r *KeyRequest) Validate() error {
	if r == nil {
		return errors.New("key request is nil")
	}
	if r.ContainerName == "" {
		return errors.New("key request container name is required")
	}
	if r.PublicKey == nil {
		return errors.New("key request public key is required")
	}
	if _, err := r.PublicKey.KeyAlgorithm(); err != nil {
		return fmt.Errorf("key request: %w", err)
	}
	return nil
}
