package keystore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/remiblancher/msgsigner/internal/audit"
)

// Resolver turns certificates, key requests and raw public keys into key
// handles. It is the only component that distinguishes modern and legacy keys.
type Resolver struct {
	reg    *Registry
	logger *slog.Logger
}

// NewResolver returns a resolver over reg. A nil logger uses slog.Default().
func NewResolver(reg *Registry, logger *slog.Logger) *Resolver {
	if reg == nil {
		reg = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reg: reg, logger: logger}
}

// Registry returns the provider registry.
func (r *Resolver) Registry() *Registry { return r.reg }

// PublicKey imports info into the default software provider. The result is
// always a modern handle.
func (r *Resolver) PublicKey(info *PublicKeyInfo) (*ModernHandle, error) {
	if info == nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: public key is nil", ErrKeyImportFailure)}
	}

	obj := audit.Object{Type: "public_key", Provider: DefaultProviderName}
	alg, _ := info.KeyAlgorithm()
	actx := audit.Context{KeyAlgorithm: alg.String()}

	key, err := r.importPublicKey(info)
	if aerr := audit.LogKeyImported(obj, actx, err); aerr != nil {
		if key != nil {
			_ = key.Free()
		}
		return nil, aerr
	}
	if err != nil {
		r.logger.Debug("public key import failed", "algorithm", alg.String(), "error", err)
		return nil, err
	}

	r.logger.Debug("public key imported", "provider", DefaultProviderName, "algorithm", alg.String())
	return NewModernHandle(DefaultProviderName, key), nil
}

func (r *Resolver) importPublicKey(info *PublicKeyInfo) (ProviderKey, error) {
	if _, err := info.KeyAlgorithm(); err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %w", ErrKeyImportFailure, err)}
	}
	spki, err := info.SPKI()
	if err != nil {
		return nil, &KeyError{Op: "import", Err: fmt.Errorf("%w: %v", ErrKeyImportFailure, err)}
	}
	return r.reg.Software().ImportPublicKey(spki)
}

// PrivateKey resolves the private key from req when set, otherwise from cert.
func (r *Resolver) PrivateKey(cert Certificate, req *KeyRequest) (KeyHandle, error) {
	switch {
	case req != nil:
		return r.PrivateKeyFromRequest(req)
	case cert != nil:
		return r.PrivateKeyFromCertificate(cert)
	default:
		return nil, ErrPrivateKeyUnavailable
	}
}

// PrivateKeyFromRequest opens the request's key on its declared provider,
// falling back to the legacy container of the same name.
func (r *Resolver) PrivateKeyFromRequest(req *KeyRequest) (KeyHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, &KeyError{Op: "acquire", Err: fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, err)}
	}

	h, err := r.openRequest(req)
	if err == nil {
		err = r.checkMatch(h, req.PublicKey)
	}

	obj := audit.Object{Type: "key", Provider: req.ProviderName, Name: req.ContainerName, ProviderType: req.ProviderType}
	if h != nil {
		obj = objectOf(h, obj)
	}
	if aerr := audit.LogKeyAccessed(obj, contextOf(h), err); aerr != nil {
		err = aerr
	}
	if err != nil {
		if h != nil {
			_ = h.Close()
		}
		return nil, err
	}

	r.logger.Debug("private key acquired from request",
		"provider", obj.Provider, "key", obj.Name, "legacy", h.Legacy())
	return h, nil
}

func (r *Resolver) openRequest(req *KeyRequest) (KeyHandle, error) {
	var result *multierror.Error

	ksp, err := r.reg.KSP(req.ProviderName)
	if err == nil {
		key, openErr := ksp.OpenKey(req.ContainerName)
		if openErr == nil {
			return NewModernHandle(ksp.Name(), key), nil
		}
		err = openErr
	}
	result = multierror.Append(result, err)
	r.logger.Debug("modern key open failed, trying legacy container",
		"provider", req.ProviderName, "key", req.ContainerName, "error", err)

	csp, err := r.reg.CSP(req.ProviderName)
	if err == nil {
		if req.ProviderType != 0 && csp.Type() != req.ProviderType {
			err = fmt.Errorf("legacy provider %q has type %d, want %d", csp.Name(), csp.Type(), req.ProviderType)
		} else {
			ctx, acqErr := csp.AcquireContext(req.ContainerName)
			if acqErr == nil {
				return NewLegacyHandle(ctx), nil
			}
			err = acqErr
		}
	}
	result = multierror.Append(result, err)

	return nil, &KeyError{Op: "acquire", Name: req.ContainerName,
		Err: fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, result.ErrorOrNil())}
}

// PrivateKeyFromCertificate acquires the certificate's private key with a
// modern preference. A legacy key is translated into a modern one when the
// software provider can; otherwise the legacy handle is returned.
func (r *Resolver) PrivateKeyFromCertificate(cert Certificate) (KeyHandle, error) {
	info, err := cert.PublicKeyInfo()
	if err != nil {
		return nil, &KeyError{Op: "acquire", Err: fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, err)}
	}

	h, err := cert.AcquirePrivateKey(true)
	if err != nil {
		if !errors.Is(err, ErrPrivateKeyUnavailable) {
			err = fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, err)
		}
		err = &KeyError{Op: "acquire", Err: err}
	}

	if lh, ok := h.(*LegacyHandle); ok && err == nil {
		h, err = r.translate(lh)
	}
	if err == nil {
		err = r.checkMatch(h, info)
	}

	obj := audit.Object{Type: "key"}
	if h != nil {
		obj = objectOf(h, obj)
	}
	if aerr := audit.LogKeyAccessed(obj, contextOf(h), err); aerr != nil {
		err = aerr
	}
	if err != nil {
		if h != nil {
			_ = h.Close()
		}
		return nil, err
	}

	r.logger.Debug("private key acquired from certificate",
		"provider", obj.Provider, "key", obj.Name, "legacy", h.Legacy())
	return h, nil
}

// translate tries to move a legacy key into the software provider. On
// success the legacy handle is released; on refusal it is returned as is.
func (r *Resolver) translate(lh *LegacyHandle) (KeyHandle, error) {
	ctx, err := lh.Context()
	if err != nil {
		return lh, err
	}

	ref := lh.Ref()
	obj := audit.Object{Type: "container", Provider: ref.Provider, Name: ref.Container, ProviderType: ref.ProviderType}
	actx := audit.Context{KeyAlgorithm: lh.Algorithm().String(), Legacy: true}

	ksp := r.reg.Software()
	key, terr := ksp.TranslateLegacy(ctx)
	if aerr := audit.LogKeyTranslated(obj, actx, terr); aerr != nil {
		if key != nil {
			_ = key.Free()
		}
		return lh, aerr
	}

	if terr != nil {
		r.logger.Debug("legacy key kept, translation refused",
			"provider", ref.Provider, "container", ref.Container, "error", terr)
		return lh, nil
	}

	mh := NewModernHandle(ksp.Name(), key)
	if err := lh.Close(); err != nil {
		r.logger.Warn("failed to release legacy context after translation",
			"provider", ref.Provider, "container", ref.Container, "error", err)
	}
	r.logger.Debug("legacy key translated", "provider", ref.Provider, "container", ref.Container)
	return mh, nil
}

// checkMatch verifies that h is the private half of info.
func (r *Resolver) checkMatch(h KeyHandle, info *PublicKeyInfo) error {
	pub, err := info.ParsedKey()
	if err != nil {
		return &KeyError{Op: "acquire", Err: fmt.Errorf("%w: %w", ErrPrivateKeyUnavailable, err)}
	}
	if !samePublicKey(h.Public(), pub) {
		return &KeyError{Op: "acquire", Err: fmt.Errorf("%w: private key does not match public key", ErrPrivateKeyUnavailable)}
	}
	return nil
}

func objectOf(h KeyHandle, fallback audit.Object) audit.Object {
	switch h := h.(type) {
	case *ModernHandle:
		return audit.Object{Type: "key", Provider: h.Provider(), Name: fallback.Name}
	case *LegacyHandle:
		ref := h.Ref()
		return audit.Object{Type: "container", Provider: ref.Provider, Name: ref.Container, ProviderType: ref.ProviderType}
	default:
		return fallback
	}
}

func contextOf(h KeyHandle) audit.Context {
	if h == nil {
		return audit.Context{}
	}
	return audit.Context{KeyAlgorithm: h.Algorithm().String(), Legacy: h.Legacy()}
}
