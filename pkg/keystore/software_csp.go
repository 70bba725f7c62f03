package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// KeyExporter is implemented by legacy contexts whose key material may be
// moved into a modern provider.
type KeyExporter interface {
	ExportPrivateKey() (crypto.PrivateKey, error)
}

type container struct {
	priv       crypto.PrivateKey
	exportable bool
}

// SoftwareCSP is a software legacy provider. Containers hold one key each;
// non-exportable containers refuse translation, as hardware-backed legacy
// providers do.
type SoftwareCSP struct {
	mu         sync.RWMutex
	name       string
	provType   uint32
	dir        string
	passphrase []byte
	containers map[string]container
}

var _ CryptoServiceProvider = (*SoftwareCSP)(nil)

// NewSoftwareCSP creates a legacy provider. An empty dir keeps containers in
// memory only.
func NewSoftwareCSP(name string, provType uint32, dir string, passphrase []byte) *SoftwareCSP {
	return &SoftwareCSP{
		name:       name,
		provType:   provType,
		dir:        dir,
		passphrase: passphrase,
		containers: make(map[string]container),
	}
}

// Name returns the provider name.
func (p *SoftwareCSP) Name() string { return p.name }

// Type returns the provider type.
func (p *SoftwareCSP) Type() uint32 { return p.provType }

// Accepts reports whether the provider type can hold keys of alg.
func (p *SoftwareCSP) Accepts(alg algid.KeyAlgorithm) bool {
	switch p.provType {
	case ProvRSAFull, ProvRSAAES:
		return alg == algid.KeyRSA
	case ProvDSS, ProvDSSDH:
		return alg == algid.KeyDSA
	default:
		return false
	}
}

// StoreKey places priv in a container.
func (p *SoftwareCSP) StoreKey(name string, priv crypto.PrivateKey, exportable bool) error {
	if err := validateKeyName(name); err != nil {
		return &KeyError{Op: "generate", Name: name, Err: err}
	}
	pub, err := publicOf(priv)
	if err != nil {
		return &KeyError{Op: "generate", Name: name, Err: err}
	}
	alg, err := keyAlgorithmOf(pub)
	if err != nil {
		return &KeyError{Op: "generate", Name: name, Err: err}
	}
	if !p.Accepts(alg) {
		return &KeyError{Op: "generate", Name: name,
			Err: fmt.Errorf("%w: provider type %d cannot hold %s keys", algid.ErrUnsupportedAlgorithm, p.provType, alg)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir != "" {
		if err := os.MkdirAll(p.dir, 0700); err != nil {
			return &KeyError{Op: "generate", Name: name, Err: err}
		}
		headers := map[string]string{headerExportable: strconv.FormatBool(exportable)}
		if err := SavePrivateKey(p.containerPath(name), priv, p.passphrase, headers); err != nil {
			return &KeyError{Op: "generate", Name: name, Err: err}
		}
	}
	p.containers[name] = container{priv: priv, exportable: exportable}
	return nil
}

// GenerateKey creates a new key in a container.
func (p *SoftwareCSP) GenerateKey(name string, spec KeySpec, exportable bool) (crypto.PublicKey, error) {
	if !p.Accepts(spec.Algorithm()) {
		return nil, &KeyError{Op: "generate", Name: name,
			Err: fmt.Errorf("%w: provider type %d cannot hold %s keys", algid.ErrUnsupportedAlgorithm, p.provType, spec)}
	}
	priv, err := GenerateKeyPair(rand.Reader, spec)
	if err != nil {
		return nil, &KeyError{Op: "generate", Name: name, Err: err}
	}
	if err := p.StoreKey(name, priv, exportable); err != nil {
		return nil, err
	}
	return publicOf(priv)
}

// AcquireContext opens a container.
func (p *SoftwareCSP) AcquireContext(name string) (LegacyContext, error) {
	if err := validateKeyName(name); err != nil {
		return nil, &KeyError{Op: "acquire", Name: name, Err: err}
	}

	p.mu.RLock()
	c, ok := p.containers[name]
	p.mu.RUnlock()

	if !ok {
		if p.dir == "" {
			return nil, &KeyError{Op: "acquire", Name: name, Err: ErrKeyNotFound}
		}
		priv, headers, err := LoadPrivateKey(p.containerPath(name), p.passphrase)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = ErrKeyNotFound
			}
			return nil, &KeyError{Op: "acquire", Name: name, Err: err}
		}
		exportable, _ := strconv.ParseBool(headers[headerExportable])
		c = container{priv: priv, exportable: exportable}

		p.mu.Lock()
		p.containers[name] = c
		p.mu.Unlock()
	}

	pub, err := publicOf(c.priv)
	if err != nil {
		return nil, &KeyError{Op: "acquire", Name: name, Err: err}
	}
	alg, err := keyAlgorithmOf(pub)
	if err != nil {
		return nil, &KeyError{Op: "acquire", Name: name, Err: err}
	}

	return &softwareContainer{
		ref:        ContainerRef{Provider: p.name, Container: name, ProviderType: p.provType},
		alg:        alg,
		priv:       c.priv,
		pub:        pub,
		exportable: c.exportable,
		rand:       rand.Reader,
	}, nil
}

func (p *SoftwareCSP) containerPath(name string) string {
	return filepath.Join(p.dir, name+keyFileExt)
}

// softwareContainer is an acquired SoftwareCSP container.
type softwareContainer struct {
	mu         sync.Mutex
	ref        ContainerRef
	alg        algid.KeyAlgorithm
	priv       crypto.PrivateKey
	pub        crypto.PublicKey
	exportable bool
	rand       io.Reader
	released   bool
}

var (
	_ LegacyContext = (*softwareContainer)(nil)
	_ KeyExporter   = (*softwareContainer)(nil)
)

func (c *softwareContainer) Container() ContainerRef { return c.ref }
func (c *softwareContainer) Algorithm() algid.KeyAlgorithm { return c.alg }
func (c *softwareContainer) Public() crypto.PublicKey { return c.pub }

// SignHash signs digest with PKCS#1 v1.5 (RSA) or DSA over SHA-1.
func (c *softwareContainer) SignHash(hash algid.HashAlgorithm, digest []byte) ([]byte, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, StatusInvalidHandle
	}
	if !hash.IsValid() {
		return nil, StatusNotSupported
	}
	if len(digest) != hash.Size() {
		return nil, StatusInvalidParameter
	}

	switch priv := c.priv.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(c.rand, priv, hash.CryptoHash(), digest)
		if err != nil {
			return nil, StatusInvalidParameter
		}
		return sig, StatusSuccess

	case *dsa.PrivateKey:
		if hash != algid.SHA1 {
			return nil, StatusNotSupported
		}
		r, s, err := dsa.Sign(c.rand, priv, truncateDigest(digest, priv.Q)) //nolint:staticcheck
		if err != nil {
			return nil, StatusInternalError
		}
		return packRS(r, s, (priv.Q.BitLen()+7)/8), StatusSuccess

	default:
		return nil, StatusBadKeyset
	}
}

// ExportPrivateKey returns the container key when it is exportable.
func (c *softwareContainer) ExportPrivateKey() (crypto.PrivateKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, ErrHandleClosed
	}
	if !c.exportable {
		return nil, fmt.Errorf("%w: container %q is not exportable", ErrTranslationRefused, c.ref.Container)
	}
	return c.priv, nil
}

// Release marks the context released.
func (c *softwareContainer) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return nil
}
