package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// PublicKeyInfo is the decomposed SubjectPublicKeyInfo of a key.
type PublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters []byte // DER of the algorithm parameters, nil when absent
	PublicKey  []byte // contents of the subjectPublicKey BIT STRING
}

// ParsePublicKeyInfo splits a DER SubjectPublicKeyInfo.
func ParsePublicKeyInfo(spki []byte) (*PublicKeyInfo, error) {
	input := cryptobyte.String(spki)
	var seq, algSeq cryptobyte.String
	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1(&algSeq, casn1.SEQUENCE) {
		return nil, errors.New("malformed SubjectPublicKeyInfo")
	}

	info := &PublicKeyInfo{}
	if !algSeq.ReadASN1ObjectIdentifier(&info.Algorithm) {
		return nil, errors.New("malformed SubjectPublicKeyInfo algorithm")
	}
	if !algSeq.Empty() {
		var params cryptobyte.String
		var tag casn1.Tag
		if !algSeq.ReadAnyASN1Element(&params, &tag) || !algSeq.Empty() {
			return nil, errors.New("malformed SubjectPublicKeyInfo parameters")
		}
		info.Parameters = append([]byte(nil), params...)
	}

	if !seq.ReadASN1BitStringAsBytes(&info.PublicKey) || !seq.Empty() {
		return nil, errors.New("malformed SubjectPublicKeyInfo key")
	}
	return info, nil
}

// PublicKeyInfoFromCertificate returns the key info of cert.
func PublicKeyInfoFromCertificate(cert *x509.Certificate) (*PublicKeyInfo, error) {
	return ParsePublicKeyInfo(cert.RawSubjectPublicKeyInfo)
}

// NewPublicKeyInfo builds the key info of a Go public key.
func NewPublicKeyInfo(pub crypto.PublicKey) (*PublicKeyInfo, error) {
	spki, err := MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return ParsePublicKeyInfo(spki)
}

// SPKI reassembles the DER SubjectPublicKeyInfo.
func (p *PublicKeyInfo) SPKI() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(p.Algorithm)
			if len(p.Parameters) > 0 {
				b.AddBytes(p.Parameters)
			}
		})
		b.AddASN1BitString(p.PublicKey)
	})
	return b.Bytes()
}

// KeyAlgorithm maps the algorithm OID to a KeyAlgorithm.
func (p *PublicKeyInfo) KeyAlgorithm() (algid.KeyAlgorithm, error) {
	return algid.KeyAlgorithmFromOID(p.Algorithm)
}

// ParsedKey parses the key into its Go representation.
func (p *PublicKeyInfo) ParsedKey() (crypto.PublicKey, error) {
	spki, err := p.SPKI()
	if err != nil {
		return nil, err
	}
	return x509.ParsePKIXPublicKey(spki)
}

// MarshalPKIXPublicKey is x509.MarshalPKIXPublicKey extended with DSA keys.
func MarshalPKIXPublicKey(pub crypto.PublicKey) ([]byte, error) {
	dsaPub, ok := pub.(*dsa.PublicKey)
	if !ok {
		return x509.MarshalPKIXPublicKey(pub)
	}

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(algid.OIDPublicKeyDSA)
			b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1BigInt(dsaPub.P)
				b.AddASN1BigInt(dsaPub.Q)
				b.AddASN1BigInt(dsaPub.G)
			})
		})
		y, err := marshalInteger(dsaPub.Y)
		if err != nil {
			b.SetError(err)
			return
		}
		b.AddASN1BitString(y)
	})
	return b.Bytes()
}

func marshalInteger(n *big.Int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1BigInt(n)
	return b.Bytes()
}

// samePublicKey compares two public keys through their SPKI encoding.
func samePublicKey(a, b crypto.PublicKey) bool {
	da, err := MarshalPKIXPublicKey(a)
	if err != nil {
		return false
	}
	db, err := MarshalPKIXPublicKey(b)
	if err != nil {
		return false
	}
	return string(da) == string(db)
}

func keyAlgorithmOf(pub crypto.PublicKey) (algid.KeyAlgorithm, error) {
	spki, err := MarshalPKIXPublicKey(pub)
	if err != nil {
		return algid.KeyUnknown, fmt.Errorf("%w: %T", algid.ErrUnsupportedAlgorithm, pub)
	}
	info, err := ParsePublicKeyInfo(spki)
	if err != nil {
		return algid.KeyUnknown, err
	}
	return info.KeyAlgorithm()
}
