package signer

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	gocose "github.com/veraison/go-cose"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// COSE algorithm identifiers from the IANA COSE Algorithms registry.
const (
	AlgES256 gocose.Algorithm = -7   // ECDSA w/ SHA-256
	AlgES384 gocose.Algorithm = -35  // ECDSA w/ SHA-384
	AlgES512 gocose.Algorithm = -36  // ECDSA w/ SHA-512
	AlgPS256 gocose.Algorithm = -37  // RSASSA-PSS w/ SHA-256
	AlgPS384 gocose.Algorithm = -38  // RSASSA-PSS w/ SHA-384
	AlgPS512 gocose.Algorithm = -39  // RSASSA-PSS w/ SHA-512
	AlgRS256 gocose.Algorithm = -257 // RSASSA-PKCS1-v1_5 w/ SHA-256
	AlgRS384 gocose.Algorithm = -258 // RSASSA-PKCS1-v1_5 w/ SHA-384
	AlgRS512 gocose.Algorithm = -259 // RSASSA-PKCS1-v1_5 w/ SHA-512
)

// COSEAlgorithm maps the current configuration to a COSE algorithm.
// PSS requires a salt equal to the hash size. DSA has no COSE algorithm.
func (s *Signer) COSEAlgorithm() (gocose.Algorithm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coseAlgorithmLocked()
}

func (s *Signer) coseAlgorithmLocked() (gocose.Algorithm, error) {
	p := s.params()
	if p.NullSigned {
		return 0, fmt.Errorf("%w: null-signed data has no COSE algorithm", ErrUnsupportedAlgorithm)
	}

	var byHash map[algid.HashAlgorithm]gocose.Algorithm
	switch {
	case p.Key == algid.KeyECDSA:
		byHash = map[algid.HashAlgorithm]gocose.Algorithm{algid.SHA256: AlgES256, algid.SHA384: AlgES384, algid.SHA512: AlgES512}
	case p.Key == algid.KeyRSA && p.Padding == algid.PaddingPSS:
		if p.SaltLength != p.Hash.Size() {
			return 0, fmt.Errorf("%w: COSE PSS requires a %d byte salt, signer uses %d", ErrUnsupportedAlgorithm, p.Hash.Size(), p.SaltLength)
		}
		byHash = map[algid.HashAlgorithm]gocose.Algorithm{algid.SHA256: AlgPS256, algid.SHA384: AlgPS384, algid.SHA512: AlgPS512}
	case p.Key == algid.KeyRSA:
		byHash = map[algid.HashAlgorithm]gocose.Algorithm{algid.SHA256: AlgRS256, algid.SHA384: AlgRS384, algid.SHA512: AlgRS512}
	default:
		return 0, fmt.Errorf("%w: no COSE algorithm for %s keys", ErrUnsupportedAlgorithm, p.Key)
	}

	alg, ok := byHash[p.Hash]
	if !ok {
		return 0, fmt.Errorf("%w: no COSE algorithm for %s", ErrUnsupportedAlgorithm, p)
	}
	return alg, nil
}

// SignCOSE returns a tagged COSE_Sign1 message over payload.
func (s *Signer) SignCOSE(payload []byte) ([]byte, error) {
	if payload == nil {
		return nil, newError("sign", ErrArgumentNull)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// A legacy RSA key forces PKCS#1, so the key is resolved before the
	// algorithm is chosen.
	if s.cert != nil || s.req != nil {
		h, err := s.privateKeyLocked()
		if err != nil {
			return nil, newError("sign", err)
		}
		if h.Legacy() && s.keyAlg == algid.KeyRSA {
			s.padding = algid.PaddingPKCS1
		}
	}

	alg, err := s.coseAlgorithmLocked()
	if err != nil {
		return nil, newError("sign", err)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected[gocose.HeaderLabelAlgorithm] = alg
	msg.Payload = payload

	if err := msg.Sign(s.opts.Rand, nil, &coseSigner{s: s, alg: alg}); err != nil {
		return nil, newError("sign", err)
	}
	return msg.MarshalCBOR()
}

// VerifyCOSE checks a COSE_Sign1 message and returns its payload. A
// signature that does not match returns false with a nil error.
func (s *Signer) VerifyCOSE(message []byte) ([]byte, bool, error) {
	if message == nil {
		return nil, false, newError("verify", ErrArgumentNull)
	}

	var msg gocose.Sign1Message
	if err := cbor.Unmarshal(message, &msg); err != nil {
		return nil, false, newError("verify", fmt.Errorf("%w: %v", ErrMalformedSignedData, err))
	}
	got, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, false, newError("verify", fmt.Errorf("%w: %v", ErrMalformedSignedData, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want, err := s.coseAlgorithmLocked()
	if err != nil {
		return nil, false, newError("verify", err)
	}
	if got != want {
		return nil, false, newError("verify", fmt.Errorf("%w: message uses COSE algorithm %d, signer expects %d", ErrUnsupportedAlgorithm, got, want))
	}

	err = msg.Verify(nil, &coseVerifier{s: s, alg: want})
	switch {
	case err == nil:
		return msg.Payload, true, nil
	case errors.Is(err, gocose.ErrVerification):
		return msg.Payload, false, nil
	default:
		var serr *SignerError
		if errors.As(err, &serr) {
			return nil, false, err
		}
		return nil, false, newError("verify", err)
	}
}

// coseSigner adapts a Signer whose mutex is already held to gocose.Signer.
// COSE carries ECDSA signatures in the native r||s form.
type coseSigner struct {
	s   *Signer
	alg gocose.Algorithm
}

func (c *coseSigner) Algorithm() gocose.Algorithm { return c.alg }

func (c *coseSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	digest, err := c.s.hash.Sum(content)
	if err != nil {
		return nil, err
	}
	sig, _, err := c.s.signLocked(digest)
	return sig, err
}

// coseVerifier adapts a Signer whose mutex is already held to gocose.Verifier.
type coseVerifier struct {
	s   *Signer
	alg gocose.Algorithm
}

func (v *coseVerifier) Algorithm() gocose.Algorithm { return v.alg }

func (v *coseVerifier) Verify(content, signature []byte) error {
	digest, err := v.s.hash.Sum(content)
	if err != nil {
		return err
	}
	ok, err := v.s.verifyLocked(digest, signature, false)
	if err != nil {
		return err
	}
	if !ok {
		return gocose.ErrVerification
	}
	return nil
}
