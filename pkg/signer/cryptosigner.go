package signer

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// CryptoSigner returns a crypto.Signer backed by s, for use with
// x509.CreateCertificate, x509.CreateCertificateRequest and similar APIs.
// The signer options must name the configured hash and padding.
func (s *Signer) CryptoSigner() crypto.Signer {
	return &cryptoSigner{s: s}
}

type cryptoSigner struct {
	s *Signer
}

func (c *cryptoSigner) Public() crypto.PublicKey { return c.s.Public() }

// Sign signs digest. rand is unused; providers own their randomness.
func (c *cryptoSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts == nil {
		return nil, newError("sign", ErrArgumentNull)
	}
	h, ok := algid.HashFromCrypto(opts.HashFunc())
	if !ok {
		return nil, newError("sign", fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, opts.HashFunc()))
	}
	if want := c.s.Hash(); h != want {
		return nil, newError("sign", fmt.Errorf("%w: signer is configured for %s, caller asked for %s", ErrUnsupportedAlgorithm, want, h))
	}

	pss, isPSS := opts.(*rsa.PSSOptions)
	if c.s.KeyAlgorithm() == algid.KeyRSA {
		if isPSS != (c.s.Padding() == algid.PaddingPSS) {
			return nil, newError("sign", fmt.Errorf("%w: signer padding is %s", ErrUnsupportedAlgorithm, c.s.Padding()))
		}
		if isPSS {
			if err := c.checkSalt(pss, h); err != nil {
				return nil, err
			}
		}
	}

	return c.s.SignHash(digest)
}

func (c *cryptoSigner) checkSalt(pss *rsa.PSSOptions, h algid.HashAlgorithm) error {
	salt := c.s.SaltLength()
	switch pss.SaltLength {
	case rsa.PSSSaltLengthAuto:
		return nil
	case rsa.PSSSaltLengthEqualsHash:
		if salt == h.Size() {
			return nil
		}
	default:
		if salt == pss.SaltLength {
			return nil
		}
	}
	return newError("sign", fmt.Errorf("%w: signer salt length is %d", ErrUnsupportedAlgorithm, salt))
}
