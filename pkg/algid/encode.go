package algid

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Encode builds the signature AlgorithmIdentifier for p.
//
// RSA uses the combined OID with NULL parameters, or RSASSA-PSS with explicit
// hash, MGF1 and salt fields when p.Padding is PaddingPSS. ECDSA uses the
// combined OID with absent parameters, or ecdsa-with-Specified carrying the
// hash AlgorithmIdentifier when alternate is set. DSA is always sha1WithDSA.
func Encode(p Params, alternate bool) (pkix.AlgorithmIdentifier, error) {
	if !p.Hash.IsValid() {
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, string(p.Hash))
	}

	if p.NullSigned {
		return pkix.AlgorithmIdentifier{Algorithm: p.Hash.OID(), Parameters: asn1.NullRawValue}, nil
	}

	switch p.Key {
	case KeyRSA:
		if p.Padding == PaddingPSS {
			params, err := marshalPSSParams(p.Hash, p.SaltLength)
			if err != nil {
				return pkix.AlgorithmIdentifier{}, err
			}
			return pkix.AlgorithmIdentifier{
				Algorithm:  OIDRSASSAPSS,
				Parameters: asn1.RawValue{FullBytes: params},
			}, nil
		}
		oid, ok := combinedOID(KeyRSA, p.Hash)
		if !ok {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: RSA with %s", ErrUnsupportedAlgorithm, p.Hash)
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}, nil

	case KeyECDSA:
		if alternate {
			inner, err := marshalHashAlgorithm(p.Hash)
			if err != nil {
				return pkix.AlgorithmIdentifier{}, err
			}
			return pkix.AlgorithmIdentifier{
				Algorithm:  OIDECDSASpecified,
				Parameters: asn1.RawValue{FullBytes: inner},
			}, nil
		}
		oid, ok := combinedOID(KeyECDSA, p.Hash)
		if !ok {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: ECDSA with %s has no combined OID", ErrUnsupportedAlgorithm, p.Hash)
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid}, nil

	case KeyDSA:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA1WithDSA}, nil

	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: key algorithm %s", ErrUnsupportedAlgorithm, p.Key)
	}
}

// Marshal returns the DER encoding of Encode(p, alternate).
func Marshal(p Params, alternate bool) ([]byte, error) {
	ai, err := Encode(p, alternate)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(ai)
}

// ParameterBytes returns the DER of the parameters element, or nil when absent.
func ParameterBytes(ai pkix.AlgorithmIdentifier) ([]byte, error) {
	if len(ai.Parameters.FullBytes) > 0 {
		return ai.Parameters.FullBytes, nil
	}
	if ai.Parameters.Tag == 0 && len(ai.Parameters.Bytes) == 0 && ai.Parameters.Class == 0 {
		return nil, nil
	}
	return asn1.Marshal(ai.Parameters)
}

func addHashAlgorithm(b *cryptobyte.Builder, h HashAlgorithm) {
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(h.OID())
		b.AddASN1NULL()
	})
}

func marshalHashAlgorithm(h HashAlgorithm) ([]byte, error) {
	var b cryptobyte.Builder
	addHashAlgorithm(&b, h)
	return b.Bytes()
}

// marshalPSSParams writes hash, MGF1 and salt explicitly and omits the
// trailer field.
func marshalPSSParams(h HashAlgorithm, salt int) ([]byte, error) {
	if salt < 0 {
		return nil, fmt.Errorf("%w: negative PSS salt length %d", ErrMalformedAlgorithmIdentifier, salt)
	}

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(tagPSSHash, func(b *cryptobyte.Builder) {
			addHashAlgorithm(b, h)
		})
		b.AddASN1(tagPSSMGF, func(b *cryptobyte.Builder) {
			b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(OIDMGF1)
				addHashAlgorithm(b, h)
			})
		})
		b.AddASN1(tagPSSSalt, func(b *cryptobyte.Builder) {
			b.AddASN1Int64(int64(salt))
		})
	})
	return b.Bytes()
}
