// Package signer produces and verifies signatures with keys resolved through
// the keystore package, and derives the AlgorithmIdentifier that accompanies
// each signature.
package signer

import (
	"crypto"
	"crypto/subtle"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// Options configures a Signer.
type Options struct {
	// Registry locates private keys and hosts imported public keys.
	// Defaults to a fresh in-memory registry.
	Registry *keystore.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Rand is passed to COSE signing. Defaults to crypto/rand inside the
	// providers.
	Rand io.Reader

	// AcceptNullSigned allows bare hash AlgorithmIdentifiers, under which a
	// signature is the digest itself and verification is a byte comparison.
	AcceptNullSigned bool

	// AlternateECDSAForm encodes ECDSA signature algorithms as
	// ecdsa-with-Specified.
	AlternateECDSAForm bool
}

// Signer signs and verifies with one key pair. The public key is imported
// when the Signer is built; the private key is resolved on the first sign
// and kept until Close.
//
// A Signer serializes its own operations. Distinct Signers are independent.
type Signer struct {
	mu       sync.Mutex
	opts     Options
	logger   *slog.Logger
	resolver *keystore.Resolver

	cert keystore.Certificate
	req  *keystore.KeyRequest
	pub  crypto.PublicKey

	keyAlg     algid.KeyAlgorithm
	hash       algid.HashAlgorithm
	padding    algid.Padding
	saltLength int
	saltSet    bool
	nullSigned bool

	sigAlg *pkix.AlgorithmIdentifier

	keys    *ownedKeys
	cleanup runtime.Cleanup
}

// ownedKeys holds the handles a Signer owns. It is kept apart from the
// Signer so that the runtime cleanup can release it.
type ownedKeys struct {
	mu      sync.Mutex
	public  *keystore.ModernHandle
	private keystore.KeyHandle
	closed  bool
}

func (k *ownedKeys) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *ownedKeys) release() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	var result *multierror.Error
	if k.private != nil {
		if err := k.private.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release private key: %w", err))
		}
		k.private = nil
	}
	if k.public != nil {
		if err := k.public.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release public key: %w", err))
		}
		k.public = nil
	}
	return result.ErrorOrNil()
}

// NewFromCertificate returns a Signer for cert. An empty hash selects SHA-256.
func NewFromCertificate(cert keystore.Certificate, hash algid.HashAlgorithm, opts *Options) (*Signer, error) {
	if cert == nil {
		return nil, newError("new", ErrArgumentNull)
	}
	info, err := cert.PublicKeyInfo()
	if err != nil {
		return nil, newError("new", fmt.Errorf("%w: %w", ErrKeyImportFailure, err))
	}
	s, err := newSigner(info, hash, opts)
	if err != nil {
		return nil, err
	}
	s.cert = cert
	return s, nil
}

// NewFromKeyRequest returns a Signer for the key of a pending key request.
func NewFromKeyRequest(req *keystore.KeyRequest, hash algid.HashAlgorithm, opts *Options) (*Signer, error) {
	if req == nil {
		return nil, newError("new", ErrArgumentNull)
	}
	if err := req.Validate(); err != nil {
		return nil, newError("new", err)
	}
	s, err := newSigner(req.PublicKey, hash, opts)
	if err != nil {
		return nil, err
	}
	s.req = req
	return s, nil
}

// NewFromPublicKey returns a verification-only Signer.
func NewFromPublicKey(info *keystore.PublicKeyInfo, hash algid.HashAlgorithm, opts *Options) (*Signer, error) {
	if info == nil {
		return nil, newError("new", ErrArgumentNull)
	}
	return newSigner(info, hash, opts)
}

func newSigner(info *keystore.PublicKeyInfo, hash algid.HashAlgorithm, opts *Options) (*Signer, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Registry == nil {
		o.Registry = keystore.NewRegistry()
	}

	if hash == "" {
		hash = algid.DefaultHash
	}
	if !hash.IsValid() {
		return nil, newError("new", fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, string(hash)))
	}

	resolver := keystore.NewResolver(o.Registry, o.Logger)
	pub, err := resolver.PublicKey(info)
	if err != nil {
		return nil, newError("new", err)
	}

	s := &Signer{
		opts:     o,
		logger:   o.Logger,
		resolver: resolver,
		pub:      pub.Public(),
		keyAlg:   pub.Algorithm(),
		hash:     hash,
		keys:     &ownedKeys{public: pub},
	}
	switch s.keyAlg {
	case algid.KeyRSA:
		s.padding = algid.PaddingPKCS1
	case algid.KeyDSA:
		if hash != algid.SHA1 {
			s.logger.Debug("DSA signer pinned to SHA1", "requested", hash.String())
		}
		s.hash = algid.SHA1
	}

	s.cleanup = runtime.AddCleanup(s, func(k *ownedKeys) { _ = k.release() }, s.keys)
	return s, nil
}

// Close releases the key handles. It is safe to call more than once.
func (s *Signer) Close() error {
	s.cleanup.Stop()
	if err := s.keys.release(); err != nil {
		return newError("close", err)
	}
	return nil
}

// =============================================================================
// Configuration
// =============================================================================

// KeyAlgorithm returns the algorithm of the key pair.
func (s *Signer) KeyAlgorithm() algid.KeyAlgorithm { return s.keyAlg }

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey { return s.pub }

// Hash returns the hash algorithm. DSA signers always report SHA1.
func (s *Signer) Hash() algid.HashAlgorithm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

// Padding returns the RSA padding scheme, or PaddingNone for DSA and ECDSA.
func (s *Signer) Padding() algid.Padding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.padding
}

// SetPadding selects the RSA padding scheme. PaddingNone selects PKCS#1
// v1.5. The call has no effect on DSA and ECDSA signers.
func (s *Signer) SetPadding(p algid.Padding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyAlg != algid.KeyRSA {
		return
	}
	if p == algid.PaddingPSS {
		s.padding = algid.PaddingPSS
	} else {
		s.padding = algid.PaddingPKCS1
	}
}

// SaltLength returns the PSS salt length, which defaults to the hash size.
func (s *Signer) SaltLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saltLengthLocked()
}

func (s *Signer) saltLengthLocked() int {
	if s.saltSet {
		return s.saltLength
	}
	return s.hash.Size()
}

// SetSaltLength overrides the PSS salt length.
func (s *Signer) SetSaltLength(n int) error {
	if n < 0 {
		return newError("configure", fmt.Errorf("salt length must not be negative: %d", n))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saltLength = n
	s.saltSet = true
	return nil
}

// NullSigned reports whether a bare hash AlgorithmIdentifier was applied.
func (s *Signer) NullSigned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nullSigned
}

// Legacy reports whether the resolved private key uses the legacy container
// model. It is false until the private key has been resolved.
func (s *Signer) Legacy() bool {
	s.keys.mu.Lock()
	defer s.keys.mu.Unlock()
	return s.keys.private != nil && s.keys.private.Legacy()
}

// ApplyAlgorithmIdentifier configures hash, padding and salt from the DER
// of a signature AlgorithmIdentifier.
func (s *Signer) ApplyAlgorithmIdentifier(der []byte) error {
	if der == nil {
		return newError("configure", ErrArgumentNull)
	}
	p, err := algid.Decode(der)
	if err != nil {
		return newError("configure", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.NullSigned {
		if !s.opts.AcceptNullSigned {
			return newError("configure", ErrNullSignedNotAllowed)
		}
		s.nullSigned = true
		s.hash = p.Hash
		return nil
	}

	if p.Key != s.keyAlg {
		return newError("configure", fmt.Errorf("%w: %s identifier for a %s key", ErrUnsupportedAlgorithm, p.Key, s.keyAlg))
	}
	s.nullSigned = false
	s.hash = p.Hash
	if s.keyAlg == algid.KeyRSA {
		s.padding = p.Padding
		if p.Padding == algid.PaddingPSS {
			s.saltLength = p.SaltLength
			s.saltSet = true
		}
	}
	return nil
}

// params returns the current algorithm tuple.
func (s *Signer) params() algid.Params {
	p := algid.Params{Key: s.keyAlg, Hash: s.hash, Padding: s.padding, NullSigned: s.nullSigned}
	if p.Padding == algid.PaddingPSS {
		p.SaltLength = s.saltLengthLocked()
	}
	if p.NullSigned {
		p.Key = algid.KeyUnknown
	}
	return p
}

// AlgorithmIdentifier encodes the current configuration and returns the OID
// and the DER of its parameters (nil when absent).
func (s *Signer) AlgorithmIdentifier(alternate bool) (asn1.ObjectIdentifier, []byte, error) {
	s.mu.Lock()
	p := s.params()
	s.mu.Unlock()

	ai, err := algid.Encode(p, alternate)
	if err != nil {
		return nil, nil, newError("configure", err)
	}
	params, err := algid.ParameterBytes(ai)
	if err != nil {
		return nil, nil, newError("configure", err)
	}
	return ai.Algorithm, params, nil
}

// SignatureAlgorithm returns the AlgorithmIdentifier of the last signature
// produced, or nil before the first successful sign.
func (s *Signer) SignatureAlgorithm() *pkix.AlgorithmIdentifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigAlg == nil {
		return nil
	}
	ai := *s.sigAlg
	return &ai
}

// =============================================================================
// Signing
// =============================================================================

// SignData hashes msg and signs the digest.
func (s *Signer) SignData(msg []byte) ([]byte, error) {
	if msg == nil {
		return nil, newError("sign", ErrArgumentNull)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.hash.Sum(msg)
	if err != nil {
		return nil, newError("sign", err)
	}
	return s.signHashLocked(digest)
}

// SignHash signs a precomputed digest. DSA and ECDSA signatures are returned
// DER-encoded.
func (s *Signer) SignHash(digest []byte) ([]byte, error) {
	if digest == nil {
		return nil, newError("sign", ErrArgumentNull)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signHashLocked(digest)
}

func (s *Signer) signHashLocked(digest []byte) ([]byte, error) {
	sig, p, err := s.signLocked(digest)
	if err != nil {
		return nil, err
	}
	if !p.NullSigned && (p.Key == algid.KeyDSA || p.Key == algid.KeyECDSA) {
		if sig, err = rawToDER(sig); err != nil {
			return nil, newError("sign", err)
		}
	}
	return sig, nil
}

// signLocked signs digest and returns the native signature. s.mu is held.
func (s *Signer) signLocked(digest []byte) ([]byte, algid.Params, error) {
	if s.keys.isClosed() {
		return nil, algid.Params{}, newError("sign", ErrClosed)
	}
	p := s.params()

	if p.NullSigned {
		return s.signNullLocked(digest, p)
	}

	h, err := s.privateKeyLocked()
	if err != nil {
		return nil, p, newError("sign", err)
	}
	if h.Legacy() && s.keyAlg == algid.KeyRSA {
		s.padding = algid.PaddingPKCS1
		p.Padding = algid.PaddingPKCS1
		p.SaltLength = 0
	}

	// The identifier is derived before the native call so that a
	// combination without an encoding fails without signing.
	ai, err := algid.Encode(p, s.opts.AlternateECDSAForm)
	if err != nil {
		return nil, p, newError("sign", err)
	}

	sig, used, err := signNative(h, digest, p)
	if aerr := audit.LogSign(auditObject(h), auditContext(used, h.Legacy()), err); aerr != nil {
		return nil, used, newError("sign", aerr)
	}
	if err != nil {
		s.logger.Debug("sign failed", "algorithm", used.String(), "legacy", h.Legacy(), "error", err)
		return nil, used, newError("sign", err)
	}

	s.sigAlg = &ai
	s.logger.Debug("signed digest", "algorithm", used.String(), "legacy", h.Legacy())
	return sig, used, nil
}

func (s *Signer) signNullLocked(digest []byte, p algid.Params) ([]byte, algid.Params, error) {
	var err error
	if len(digest) != p.Hash.Size() {
		err = &StatusError{Op: "sign", Status: keystore.StatusInvalidParameter}
	}
	obj := audit.Object{Type: "public_key", Provider: keystore.DefaultProviderName}
	if aerr := audit.LogSign(obj, auditContext(p, false), err); aerr != nil {
		return nil, p, newError("sign", aerr)
	}
	if err != nil {
		return nil, p, newError("sign", err)
	}

	ai, err := algid.Encode(p, false)
	if err != nil {
		return nil, p, newError("sign", err)
	}
	s.sigAlg = &ai
	return append([]byte(nil), digest...), p, nil
}

// privateKeyLocked resolves the private key once. s.mu is held.
func (s *Signer) privateKeyLocked() (keystore.KeyHandle, error) {
	s.keys.mu.Lock()
	if s.keys.closed {
		s.keys.mu.Unlock()
		return nil, ErrClosed
	}
	if h := s.keys.private; h != nil {
		s.keys.mu.Unlock()
		return h, nil
	}
	s.keys.mu.Unlock()

	if s.cert == nil && s.req == nil {
		return nil, ErrPrivateKeyUnavailable
	}
	h, err := s.resolver.PrivateKey(s.cert, s.req)
	if err != nil {
		return nil, err
	}

	s.keys.mu.Lock()
	defer s.keys.mu.Unlock()
	if s.keys.closed {
		_ = h.Close()
		return nil, ErrClosed
	}
	s.keys.private = h
	s.logger.Debug("private key resolved", "algorithm", h.Algorithm().String(), "legacy", h.Legacy())
	return h, nil
}

// =============================================================================
// Verification
// =============================================================================

// VerifyData hashes msg and verifies sig over the digest.
func (s *Signer) VerifyData(msg, sig []byte) (bool, error) {
	if msg == nil || sig == nil {
		return false, newError("verify", ErrArgumentNull)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.hash.Sum(msg)
	if err != nil {
		return false, newError("verify", err)
	}
	return s.verifyLocked(digest, sig, true)
}

// VerifyHash verifies sig over a precomputed digest. A signature that does
// not match returns false with a nil error.
func (s *Signer) VerifyHash(digest, sig []byte) (bool, error) {
	if digest == nil || sig == nil {
		return false, newError("verify", ErrArgumentNull)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyLocked(digest, sig, true)
}

// verifyLocked verifies sig, which is DER for DSA and ECDSA when der is
// set and native r||s otherwise. s.mu is held.
func (s *Signer) verifyLocked(digest, sig []byte, der bool) (bool, error) {
	if s.keys.isClosed() {
		return false, newError("verify", ErrClosed)
	}
	p := s.params()
	obj := audit.Object{Type: "public_key", Provider: keystore.DefaultProviderName}

	if p.NullSigned {
		ok := subtle.ConstantTimeCompare(digest, sig) == 1
		if aerr := audit.LogVerify(obj, auditContext(p, false), ok, nil); aerr != nil {
			return false, newError("verify", aerr)
		}
		return ok, nil
	}

	s.keys.mu.Lock()
	pub, closed := s.keys.public, s.keys.closed
	s.keys.mu.Unlock()
	if closed {
		return false, newError("verify", ErrClosed)
	}

	native := sig
	wellFormed := true
	if der && (p.Key == algid.KeyDSA || p.Key == algid.KeyECDSA) {
		native, wellFormed = derToRaw(sig, rsHalfSize(s.pub))
	}

	var ok bool
	var err error
	if wellFormed {
		ok, err = verifyNative(pub, digest, native, p)
	} else {
		s.logger.Debug("signature is not a valid DER sequence", "algorithm", p.String())
	}

	if aerr := audit.LogVerify(obj, auditContext(p, false), ok, err); aerr != nil {
		return false, newError("verify", aerr)
	}
	if err != nil {
		if errors.Is(err, keystore.ErrHandleClosed) {
			err = ErrClosed
		}
		return false, newError("verify", err)
	}
	return ok, nil
}
