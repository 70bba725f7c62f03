// Package algid maps ASN.1 signature AlgorithmIdentifier structures to and
// from the (key algorithm, hash, padding, salt) tuple used by the signer.
package algid

import (
	"crypto"
	"crypto/md5"  //nolint:gosec // MD5 is part of the supported legacy set
	"crypto/sha1" //nolint:gosec // SHA-1 is required for DSA
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"strings"
)

// KeyAlgorithm identifies the public key algorithm of a key pair.
type KeyAlgorithm int

// Supported key algorithms.
const (
	KeyUnknown KeyAlgorithm = iota
	KeyRSA
	KeyDSA
	KeyECDSA
)

// String returns the algorithm name.
func (k KeyAlgorithm) String() string {
	switch k {
	case KeyRSA:
		return "RSA"
	case KeyDSA:
		return "DSA"
	case KeyECDSA:
		return "ECDSA"
	default:
		return "unknown"
	}
}

// OID returns the SubjectPublicKeyInfo algorithm OID.
func (k KeyAlgorithm) OID() asn1.ObjectIdentifier {
	switch k {
	case KeyRSA:
		return OIDPublicKeyRSA
	case KeyDSA:
		return OIDPublicKeyDSA
	case KeyECDSA:
		return OIDPublicKeyECDSA
	default:
		return nil
	}
}

// KeyAlgorithmFromOID maps a SubjectPublicKeyInfo algorithm OID to a KeyAlgorithm.
func KeyAlgorithmFromOID(oid asn1.ObjectIdentifier) (KeyAlgorithm, error) {
	switch {
	case oid.Equal(OIDPublicKeyRSA):
		return KeyRSA, nil
	case oid.Equal(OIDPublicKeyDSA):
		return KeyDSA, nil
	case oid.Equal(OIDPublicKeyECDSA):
		return KeyECDSA, nil
	default:
		return KeyUnknown, fmt.Errorf("%w: public key algorithm %s", ErrUnsupportedAlgorithm, oid)
	}
}

// Padding identifies the RSA signature padding scheme.
type Padding int

// Supported padding schemes. Padding is only meaningful for RSA keys.
const (
	PaddingNone Padding = iota
	PaddingPKCS1
	PaddingPSS
)

// String returns the padding name.
func (p Padding) String() string {
	switch p {
	case PaddingPKCS1:
		return "pkcs1"
	case PaddingPSS:
		return "pss"
	default:
		return "none"
	}
}

// ParsePadding parses a padding name ("none", "pkcs1", "pkcs1v15", "pss").
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PaddingNone, nil
	case "pkcs1", "pkcs1v15", "pkcs1-v1_5":
		return PaddingPKCS1, nil
	case "pss", "rsassa-pss":
		return PaddingPSS, nil
	default:
		return PaddingNone, fmt.Errorf("unknown padding scheme: %q", s)
	}
}

// HashAlgorithm is the canonical short name of a supported hash algorithm.
// The name is also what providers receive in padding info records.
type HashAlgorithm string

// Supported hash algorithms.
const (
	MD5    HashAlgorithm = "MD5"
	SHA1   HashAlgorithm = "SHA1"
	SHA256 HashAlgorithm = "SHA256"
	SHA384 HashAlgorithm = "SHA384"
	SHA512 HashAlgorithm = "SHA512"
)

// DefaultHash is used when a signer is constructed without an explicit hash.
const DefaultHash = SHA256

// IsValid returns true if the hash algorithm is in the supported set.
func (h HashAlgorithm) IsValid() bool {
	switch h {
	case MD5, SHA1, SHA256, SHA384, SHA512:
		return true
	default:
		return false
	}
}

// String returns the canonical name.
func (h HashAlgorithm) String() string {
	return string(h)
}

// OID returns the hash algorithm OID.
func (h HashAlgorithm) OID() asn1.ObjectIdentifier {
	switch h {
	case MD5:
		return OIDMD5
	case SHA1:
		return OIDSHA1
	case SHA256:
		return OIDSHA256
	case SHA384:
		return OIDSHA384
	case SHA512:
		return OIDSHA512
	default:
		return nil
	}
}

// CryptoHash returns the corresponding crypto.Hash value.
func (h HashAlgorithm) CryptoHash() crypto.Hash {
	switch h {
	case MD5:
		return crypto.MD5
	case SHA1:
		return crypto.SHA1
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// Size returns the digest size in bytes.
func (h HashAlgorithm) Size() int {
	switch h {
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	default:
		return 0
	}
}

// New returns a new hash.Hash, or nil for an unsupported algorithm.
func (h HashAlgorithm) New() hash.Hash {
	switch h {
	case MD5:
		return md5.New() //nolint:gosec
	case SHA1:
		return sha1.New() //nolint:gosec
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return nil
	}
}

// Sum hashes data with h.
func (h HashAlgorithm) Sum(data []byte) ([]byte, error) {
	hh := h.New()
	if hh == nil {
		return nil, fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, string(h))
	}
	hh.Write(data)
	return hh.Sum(nil), nil
}

// ParseHashAlgorithm parses a hash name. Matching is case-insensitive and
// ignores dashes, so "sha-256", "SHA256" and "sha256" are equivalent.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	h := HashAlgorithm(n)
	if !h.IsValid() {
		return "", fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, s)
	}
	return h, nil
}

// HashFromOID maps a hash algorithm OID to a HashAlgorithm.
func HashFromOID(oid asn1.ObjectIdentifier) (HashAlgorithm, bool) {
	for _, h := range []HashAlgorithm{MD5, SHA1, SHA256, SHA384, SHA512} {
		if h.OID().Equal(oid) {
			return h, true
		}
	}
	return "", false
}

// HashFromCrypto maps a crypto.Hash to a HashAlgorithm.
func HashFromCrypto(ch crypto.Hash) (HashAlgorithm, bool) {
	switch ch {
	case crypto.MD5:
		return MD5, true
	case crypto.SHA1:
		return SHA1, true
	case crypto.SHA256:
		return SHA256, true
	case crypto.SHA384:
		return SHA384, true
	case crypto.SHA512:
		return SHA512, true
	default:
		return "", false
	}
}

// Params is the decoded form of a signature AlgorithmIdentifier.
type Params struct {
	// Key is the key algorithm implied by the OID, KeyUnknown when null-signed.
	Key KeyAlgorithm

	Hash    HashAlgorithm
	Padding Padding

	// SaltLength is only set for PSS.
	SaltLength int

	// NullSigned is set when the OID is a bare hash algorithm: the
	// "signature" is the digest itself.
	NullSigned bool
}

// String returns a short human-readable description.
func (p Params) String() string {
	if p.NullSigned {
		return fmt.Sprintf("null-signed %s", p.Hash)
	}
	if p.Padding == PaddingPSS {
		return fmt.Sprintf("%s-%s-pss(salt=%d)", p.Key, p.Hash, p.SaltLength)
	}
	return fmt.Sprintf("%s-%s", p.Key, p.Hash)
}
