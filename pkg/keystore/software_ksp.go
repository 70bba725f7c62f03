package keystore

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const keyFileExt = ".pem"

// SoftwareKSP is the software key storage provider. Keys live in memory and,
// when a directory is configured, are persisted there as PEM files.
type SoftwareKSP struct {
	mu         sync.RWMutex
	name       string
	dir        string
	passphrase []byte
	rand       io.Reader
	keys       map[string]crypto.PrivateKey
}

var _ KeyStorageProvider = (*SoftwareKSP)(nil)

// NewSoftwareKSP creates the default software provider. An empty dir keeps
// keys in memory only.
func NewSoftwareKSP(dir string, passphrase []byte) *SoftwareKSP {
	return &SoftwareKSP{
		name:       DefaultProviderName,
		dir:        dir,
		passphrase: passphrase,
		keys:       make(map[string]crypto.PrivateKey),
	}
}

// SetRand replaces the random source used by keys opened afterwards.
func (p *SoftwareKSP) SetRand(random io.Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rand = random
}

// Name returns DefaultProviderName.
func (p *SoftwareKSP) Name() string { return p.name }

// Dir returns the persistence directory, or "".
func (p *SoftwareKSP) Dir() string { return p.dir }

// OpenKey opens a stored private key.
func (p *SoftwareKSP) OpenKey(name string) (ProviderKey, error) {
	if err := validateKeyName(name); err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}

	p.mu.RLock()
	priv, ok := p.keys[name]
	random := p.rand
	p.mu.RUnlock()

	if !ok {
		if p.dir == "" {
			return nil, &KeyError{Op: "open", Name: name, Err: ErrKeyNotFound}
		}
		var err error
		priv, _, err = LoadPrivateKey(p.keyPath(name), p.passphrase)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = ErrKeyNotFound
			}
			return nil, &KeyError{Op: "open", Name: name, Err: err}
		}
		p.mu.Lock()
		p.keys[name] = priv
		p.mu.Unlock()
	}

	key, err := newSoftwareKey(priv, random)
	if err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}
	return key, nil
}

// ImportPublicKey imports a DER SubjectPublicKeyInfo as a verification-only key.
func (p *SoftwareKSP) ImportPublicKey(spki []byte) (ProviderKey, error) {
	return importSoftwarePublicKey(spki)
}

func importSoftwarePublicKey(spki []byte) (ProviderKey, error) {
	info, err := ParsePublicKeyInfo(spki)
	if err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %v", ErrKeyImportFailure, err)}
	}
	if _, err := info.KeyAlgorithm(); err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %w", ErrKeyImportFailure, err)}
	}
	pub, err := info.ParsedKey()
	if err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %v", ErrKeyImportFailure, err)}
	}
	key, err := newPublicSoftwareKey(pub)
	if err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %w", ErrKeyImportFailure, err)}
	}
	return key, nil
}

// TranslateLegacy opens the key of an exportable legacy context.
func (p *SoftwareKSP) TranslateLegacy(ctx LegacyContext) (ProviderKey, error) {
	ref := ctx.Container()

	exporter, ok := ctx.(KeyExporter)
	if !ok {
		return nil, &KeyError{Op: "translate", Name: ref.Container, Err: ErrTranslationRefused}
	}
	priv, err := exporter.ExportPrivateKey()
	if err != nil {
		return nil, &KeyError{Op: "translate", Name: ref.Container, Err: err}
	}

	key, err := newSoftwareKey(priv, p.random())
	if err != nil {
		return nil, &KeyError{Op: "translate", Name: ref.Container, Err: err}
	}
	if !samePublicKey(key.Public(), ctx.Public()) {
		return nil, &KeyError{Op: "translate", Name: ref.Container, Err: errors.New("exported key does not match container public key")}
	}
	return key, nil
}

// StoreKey adds priv under name, persisting it when a directory is configured.
func (p *SoftwareKSP) StoreKey(name string, priv crypto.PrivateKey) error {
	if err := validateKeyName(name); err != nil {
		return &KeyError{Op: "generate", Name: name, Err: err}
	}
	if _, err := publicOf(priv); err != nil {
		return &KeyError{Op: "generate", Name: name, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir != "" {
		if err := os.MkdirAll(p.dir, 0700); err != nil {
			return &KeyError{Op: "generate", Name: name, Err: err}
		}
		if err := SavePrivateKey(p.keyPath(name), priv, p.passphrase, nil); err != nil {
			return &KeyError{Op: "generate", Name: name, Err: err}
		}
	}
	p.keys[name] = priv
	return nil
}

// GenerateKey creates and stores a new key under name.
func (p *SoftwareKSP) GenerateKey(name string, spec KeySpec) (crypto.PublicKey, error) {
	priv, err := GenerateKeyPair(p.random(), spec)
	if err != nil {
		return nil, &KeyError{Op: "generate", Name: name, Err: err}
	}
	if err := p.StoreKey(name, priv); err != nil {
		return nil, err
	}
	return publicOf(priv)
}

// DeleteKey removes a key from memory and disk.
func (p *SoftwareKSP) DeleteKey(name string) error {
	if err := validateKeyName(name); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, inMemory := p.keys[name]
	delete(p.keys, name)

	if p.dir != "" {
		err := os.Remove(p.keyPath(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if !inMemory {
		return &KeyError{Op: "open", Name: name, Err: ErrKeyNotFound}
	}
	return nil
}

// ListKeys returns the sorted names of all stored keys.
func (p *SoftwareKSP) ListKeys() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool, len(p.keys))
	for name := range p.keys {
		seen[name] = true
	}
	if p.dir != "" {
		entries, err := os.ReadDir(p.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), keyFileExt) {
				seen[strings.TrimSuffix(e.Name(), keyFileExt)] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *SoftwareKSP) keyPath(name string) string {
	return filepath.Join(p.dir, name+keyFileExt)
}

func (p *SoftwareKSP) random() io.Reader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rand
}

// validateKeyName rejects names that would escape the key directory.
func validateKeyName(name string) error {
	if name == "" {
		return errors.New("key name is required")
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid key name: %q", name)
	}
	return nil
}
