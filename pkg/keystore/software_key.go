package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"math/big"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// softwareKey implements ProviderKey over Go key material. priv is nil for
// imported public keys.
type softwareKey struct {
	alg  algid.KeyAlgorithm
	priv crypto.PrivateKey
	pub  crypto.PublicKey
	rand io.Reader
}

var _ ProviderKey = (*softwareKey)(nil)

func newSoftwareKey(priv crypto.PrivateKey, random io.Reader) (*softwareKey, error) {
	pub, err := publicOf(priv)
	if err != nil {
		return nil, err
	}
	alg, err := keyAlgorithmOf(pub)
	if err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.Reader
	}
	return &softwareKey{alg: alg, priv: priv, pub: pub, rand: random}, nil
}

func newPublicSoftwareKey(pub crypto.PublicKey) (*softwareKey, error) {
	alg, err := keyAlgorithmOf(pub)
	if err != nil {
		return nil, err
	}
	return &softwareKey{alg: alg, pub: pub}, nil
}

// publicOf returns the public half of a supported private key.
func publicOf(priv crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case *dsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		return nil, fmt.Errorf("%w: private key type %T", algid.ErrUnsupportedAlgorithm, priv)
	}
}

func (k *softwareKey) Algorithm() algid.KeyAlgorithm { return k.alg }
func (k *softwareKey) Public() crypto.PublicKey { return k.pub }
func (k *softwareKey) Free() error { return nil }

// signatureSize returns the native signature length.
func (k *softwareKey) signatureSize() int {
	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		return pub.Size()
	case *ecdsa.PublicKey:
		return 2 * ((pub.Curve.Params().BitSize + 7) / 8)
	case *dsa.PublicKey:
		return 2 * ((pub.Q.BitLen() + 7) / 8)
	default:
		return 0
	}
}

// checkPadding validates the padding record against the key algorithm.
func (k *softwareKey) checkPadding(pad *PaddingInfo, digest []byte, signing bool) Status {
	if len(digest) == 0 {
		return StatusInvalidParameter
	}
	if k.alg != algid.KeyRSA {
		if pad != nil {
			return StatusInvalidParameter
		}
		// DSA keys only sign SHA-1 digests.
		if k.alg == algid.KeyDSA && len(digest) != algid.SHA1.Size() {
			return StatusInvalidParameter
		}
		return StatusSuccess
	}

	if pad == nil {
		return StatusInvalidParameter
	}
	if !pad.Hash.IsValid() {
		return StatusNotSupported
	}
	if len(digest) != pad.Hash.Size() {
		return StatusInvalidParameter
	}
	switch pad.Scheme {
	case algid.PaddingPKCS1:
		return StatusSuccess
	case algid.PaddingPSS:
		if pad.SaltLength < 0 {
			return StatusInvalidParameter
		}
		// crypto/rsa cannot sign with an empty salt; verification
		// auto-detects the salt length instead.
		if pad.SaltLength == 0 && signing {
			return StatusNotSupported
		}
		return StatusSuccess
	default:
		return StatusInvalidParameter
	}
}

// SignHash implements the two-phase sizing convention.
func (k *softwareKey) SignHash(pad *PaddingInfo, digest, out []byte) (int, Status) {
	if k.priv == nil {
		return 0, StatusNotSupported
	}
	if st := k.checkPadding(pad, digest, true); !st.OK() {
		return 0, st
	}

	size := k.signatureSize()
	if out == nil {
		return size, StatusSuccess
	}
	if len(out) < size {
		return size, StatusBufferTooSmall
	}

	sig, st := k.sign(pad, digest)
	if !st.OK() {
		return 0, st
	}
	return copy(out, sig), StatusSuccess
}

func (k *softwareKey) sign(pad *PaddingInfo, digest []byte) ([]byte, Status) {
	switch priv := k.priv.(type) {
	case *rsa.PrivateKey:
		var sig []byte
		var err error
		ch := pad.Hash.CryptoHash()
		if pad.Scheme == algid.PaddingPSS {
			sig, err = rsa.SignPSS(k.rand, priv, ch, digest, &rsa.PSSOptions{SaltLength: pad.SaltLength, Hash: ch})
		} else {
			sig, err = rsa.SignPKCS1v15(k.rand, priv, ch, digest)
		}
		if err != nil {
			return nil, StatusInvalidParameter
		}
		return sig, StatusSuccess

	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(k.rand, priv, digest)
		if err != nil {
			return nil, StatusInternalError
		}
		return packRS(r, s, k.signatureSize()/2), StatusSuccess

	case *dsa.PrivateKey:
		r, s, err := dsa.Sign(k.rand, priv, truncateDigest(digest, priv.Q)) //nolint:staticcheck
		if err != nil {
			return nil, StatusInternalError
		}
		return packRS(r, s, k.signatureSize()/2), StatusSuccess

	default:
		return nil, StatusNotSupported
	}
}

// VerifySignature returns StatusSuccess or StatusBadSignature for well-formed
// input and a parameter status otherwise.
func (k *softwareKey) VerifySignature(pad *PaddingInfo, digest, sig []byte) Status {
	if st := k.checkPadding(pad, digest, false); !st.OK() {
		return st
	}

	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		ch := pad.Hash.CryptoHash()
		var err error
		if pad.Scheme == algid.PaddingPSS {
			err = rsa.VerifyPSS(pub, ch, digest, sig, &rsa.PSSOptions{SaltLength: pad.SaltLength, Hash: ch})
		} else {
			err = rsa.VerifyPKCS1v15(pub, ch, digest, sig)
		}
		if err != nil {
			return StatusBadSignature
		}
		return StatusSuccess

	case *ecdsa.PublicKey:
		r, s, ok := unpackRS(sig, k.signatureSize())
		if !ok || !ecdsa.Verify(pub, digest, r, s) {
			return StatusBadSignature
		}
		return StatusSuccess

	case *dsa.PublicKey:
		r, s, ok := unpackRS(sig, k.signatureSize())
		if !ok || !dsa.Verify(pub, truncateDigest(digest, pub.Q), r, s) { //nolint:staticcheck
			return StatusBadSignature
		}
		return StatusSuccess

	default:
		return StatusNotSupported
	}
}

// packRS writes r and s as fixed-width big-endian halves.
func packRS(r, s *big.Int, half int) []byte {
	out := make([]byte, 2*half)
	r.FillBytes(out[:half])
	s.FillBytes(out[half:])
	return out
}

func unpackRS(sig []byte, size int) (r, s *big.Int, ok bool) {
	if len(sig) != size || size == 0 {
		return nil, nil, false
	}
	half := size / 2
	return new(big.Int).SetBytes(sig[:half]), new(big.Int).SetBytes(sig[half:]), true
}

// truncateDigest keeps the leftmost bytes of digest that fit the DSA subgroup.
func truncateDigest(digest []byte, q *big.Int) []byte {
	if n := (q.BitLen() + 7) / 8; len(digest) > n {
		return digest[:n]
	}
	return digest
}
