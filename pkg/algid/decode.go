package algid

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// PSS defaults from RFC 4055 when the fields are absent.
const (
	defaultPSSHash = SHA1
	defaultPSSSalt = 20
)

var (
	tagPSSHash    = casn1.Tag(0).ContextSpecific().Constructed()
	tagPSSMGF     = casn1.Tag(1).ContextSpecific().Constructed()
	tagPSSSalt    = casn1.Tag(2).ContextSpecific().Constructed()
	tagPSSTrailer = casn1.Tag(3).ContextSpecific().Constructed()

	derNull = []byte{0x05, 0x00}
)

// Decode parses the DER encoding of a signature AlgorithmIdentifier.
//
// A bare hash OID yields NullSigned params. Combined OIDs map directly,
// ecdsa-with-Specified recurses into its embedded hash identifier and
// RSASSA-PSS parameters are parsed with RFC 4055 defaults.
func Decode(der []byte) (*Params, error) {
	oid, params, err := splitAlgorithmIdentifier(der)
	if err != nil {
		return nil, err
	}
	return decodeOID(oid, params)
}

// DecodeAlgorithmIdentifier decodes an already parsed AlgorithmIdentifier.
func DecodeAlgorithmIdentifier(ai pkix.AlgorithmIdentifier) (*Params, error) {
	der, err := asn1.Marshal(ai)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAlgorithmIdentifier, err)
	}
	return Decode(der)
}

// splitAlgorithmIdentifier returns the OID and the complete parameters
// element, which is empty when parameters are absent.
func splitAlgorithmIdentifier(der []byte) (asn1.ObjectIdentifier, cryptobyte.String, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() {
		return nil, nil, fmt.Errorf("%w: expected a single SEQUENCE", ErrMalformedAlgorithmIdentifier)
	}

	var oid asn1.ObjectIdentifier
	if !seq.ReadASN1ObjectIdentifier(&oid) {
		return nil, nil, fmt.Errorf("%w: missing algorithm OID", ErrMalformedAlgorithmIdentifier)
	}

	var params cryptobyte.String
	if !seq.Empty() {
		var tag casn1.Tag
		if !seq.ReadAnyASN1Element(&params, &tag) {
			return nil, nil, fmt.Errorf("%w: invalid parameters", ErrMalformedAlgorithmIdentifier)
		}
		if !seq.Empty() {
			return nil, nil, fmt.Errorf("%w: trailing data after parameters", ErrMalformedAlgorithmIdentifier)
		}
	}

	return oid, params, nil
}

func absentOrNull(params cryptobyte.String) bool {
	return len(params) == 0 || bytes.Equal(params, derNull)
}

func decodeOID(oid asn1.ObjectIdentifier, params cryptobyte.String) (*Params, error) {
	if h, ok := HashFromOID(oid); ok {
		if !absentOrNull(params) {
			return nil, fmt.Errorf("%w: unexpected parameters for hash %s", ErrMalformedAlgorithmIdentifier, h)
		}
		return &Params{Hash: h, NullSigned: true}, nil
	}

	if c, ok := lookupCombined(oid); ok {
		if !absentOrNull(params) {
			return nil, fmt.Errorf("%w: unexpected parameters for %s", ErrMalformedAlgorithmIdentifier, oid)
		}
		p := &Params{Key: c.key, Hash: c.hash}
		if c.key == KeyRSA {
			p.Padding = PaddingPKCS1
		}
		return p, nil
	}

	switch {
	case oid.Equal(OIDECDSASpecified):
		if len(params) == 0 {
			return nil, fmt.Errorf("%w: ecdsa-with-Specified without hash parameters", ErrMalformedAlgorithmIdentifier)
		}
		h, err := decodeHashAlgorithm(params)
		if err != nil {
			return nil, err
		}
		return &Params{Key: KeyECDSA, Hash: h}, nil

	case oid.Equal(OIDRSASSAPSS):
		return decodePSS(params)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, oid)
}

// decodeHashAlgorithm parses a hash AlgorithmIdentifier element.
func decodeHashAlgorithm(der cryptobyte.String) (HashAlgorithm, error) {
	oid, params, err := splitAlgorithmIdentifier(der)
	if err != nil {
		return "", err
	}
	h, ok := HashFromOID(oid)
	if !ok {
		return "", fmt.Errorf("%w: hash %s", ErrUnsupportedAlgorithm, oid)
	}
	if !absentOrNull(params) {
		return "", fmt.Errorf("%w: unexpected hash parameters", ErrMalformedAlgorithmIdentifier)
	}
	return h, nil
}

// decodePSS parses RSASSA-PSS-params:
//
//	RSASSA-PSS-params ::= SEQUENCE {
//	    hashAlgorithm      [0] HashAlgorithm    DEFAULT sha1,
//	    maskGenAlgorithm   [1] MaskGenAlgorithm DEFAULT mgf1SHA1,
//	    saltLength         [2] INTEGER          DEFAULT 20,
//	    trailerField       [3] TrailerField     DEFAULT trailerFieldBC }
func decodePSS(params cryptobyte.String) (*Params, error) {
	p := &Params{
		Key:        KeyRSA,
		Hash:       defaultPSSHash,
		Padding:    PaddingPSS,
		SaltLength: defaultPSSSalt,
	}
	if absentOrNull(params) {
		return p, nil
	}

	var seq cryptobyte.String
	if !params.ReadASN1(&seq, casn1.SEQUENCE) || !params.Empty() {
		return nil, fmt.Errorf("%w: PSS parameters are not a SEQUENCE", ErrMalformedAlgorithmIdentifier)
	}

	var field cryptobyte.String
	var present bool

	if !seq.ReadOptionalASN1(&field, &present, tagPSSHash) {
		return nil, fmt.Errorf("%w: PSS hash field", ErrMalformedAlgorithmIdentifier)
	}
	if present {
		h, err := decodeHashAlgorithm(field)
		if err != nil {
			return nil, err
		}
		p.Hash = h
	}

	if !seq.ReadOptionalASN1(&field, &present, tagPSSMGF) {
		return nil, fmt.Errorf("%w: PSS mask generation field", ErrMalformedAlgorithmIdentifier)
	}
	if present {
		if err := validateMGF(field); err != nil {
			return nil, err
		}
	}

	if !seq.ReadOptionalASN1(&field, &present, tagPSSSalt) {
		return nil, fmt.Errorf("%w: PSS salt field", ErrMalformedAlgorithmIdentifier)
	}
	if present {
		var salt int
		if !field.ReadASN1Integer(&salt) || !field.Empty() || salt < 0 {
			return nil, fmt.Errorf("%w: PSS salt length", ErrMalformedAlgorithmIdentifier)
		}
		p.SaltLength = salt
	}

	if !seq.ReadOptionalASN1(&field, &present, tagPSSTrailer) {
		return nil, fmt.Errorf("%w: PSS trailer field", ErrMalformedAlgorithmIdentifier)
	}
	if present {
		var trailer int64
		if !field.ReadASN1Integer(&trailer) || !field.Empty() {
			return nil, fmt.Errorf("%w: PSS trailer field", ErrMalformedAlgorithmIdentifier)
		}
	}

	if !seq.Empty() {
		return nil, fmt.Errorf("%w: trailing data in PSS parameters", ErrMalformedAlgorithmIdentifier)
	}
	return p, nil
}

// validateMGF accepts MGF1 with a supported hash. The MGF hash is not
// required to match the message hash.
func validateMGF(der cryptobyte.String) error {
	oid, params, err := splitAlgorithmIdentifier(der)
	if err != nil {
		return err
	}
	if !oid.Equal(OIDMGF1) {
		return fmt.Errorf("%w: mask generation function %s", ErrUnsupportedAlgorithm, oid)
	}
	if len(params) == 0 {
		return fmt.Errorf("%w: MGF1 without hash parameters", ErrMalformedAlgorithmIdentifier)
	}
	_, err = decodeHashAlgorithm(params)
	return err
}
