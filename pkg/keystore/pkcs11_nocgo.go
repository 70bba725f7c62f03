//go:build !cgo

package keystore

import "fmt"

// errNoCGO is returned when PKCS#11 operations are attempted without CGO.
var errNoCGO = fmt.Errorf("HSM support requires CGO (build with CGO_ENABLED=1)")

// PKCS11KSP is a modern key storage provider backed by a PKCS#11 token.
// This stub is used when CGO is not available.
type PKCS11KSP struct{}

var _ KeyStorageProvider = (*PKCS11KSP)(nil)

// NewPKCS11KSP returns an error when CGO is not available.
func NewPKCS11KSP(cfg *HSMConfig) (*PKCS11KSP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, errNoCGO
}

func (p *PKCS11KSP) Name() string { return "" }

func (p *PKCS11KSP) OpenKey(name string) (ProviderKey, error) {
	return nil, &KeyError{Op: "open", Name: name, Err: errNoCGO}
}

func (p *PKCS11KSP) ImportPublicKey(spki []byte) (ProviderKey, error) {
	return importSoftwarePublicKey(spki)
}

func (p *PKCS11KSP) TranslateLegacy(ctx LegacyContext) (ProviderKey, error) {
	return nil, &KeyError{Op: "translate", Name: ctx.Container().Container, Err: ErrTranslationRefused}
}

// CloseAllPools is a no-op without CGO.
func CloseAllPools() error { return nil }
