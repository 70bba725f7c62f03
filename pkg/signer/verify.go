package signer

import (
	"encoding/asn1"
	"io"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// VerifyDetached verifies signature over tbs with the public key pub and the
// algorithm declared by the DER AlgorithmIdentifier algID.
//
// A bare hash algID is only honored when opts.AcceptNullSigned is set.
// A failure to release the temporary key handles is returned as the error.
func VerifyDetached(tbs, signature, algID []byte, pub *keystore.PublicKeyInfo, opts *Options) (ok bool, err error) {
	if tbs == nil || signature == nil || algID == nil || pub == nil {
		return false, newError("verify", ErrArgumentNull)
	}

	p, err := algid.Decode(algID)
	if err != nil {
		return false, newError("verify", err)
	}

	s, err := NewFromPublicKey(pub, p.Hash, opts)
	if err != nil {
		return false, err
	}
	defer releaseInto(s, &err)

	if err := s.ApplyAlgorithmIdentifier(algID); err != nil {
		return false, err
	}
	return s.VerifyData(tbs, signature)
}

// VerifySignedBlob verifies an X.509-style signed structure
//
//	SEQUENCE { tbs ANY, signatureAlgorithm AlgorithmIdentifier, signature BIT STRING }
//
// such as a certificate, certification request or CRL.
func VerifySignedBlob(blob []byte, pub *keystore.PublicKeyInfo, opts *Options) (bool, error) {
	if blob == nil || pub == nil {
		return false, newError("verify", ErrArgumentNull)
	}
	tbs, algID, sig, err := splitSignedBlob(blob)
	if err != nil {
		return false, newError("verify", err)
	}
	return VerifyDetached(tbs, sig, algID, pub, opts)
}

// releaseInto closes c and merges a release failure into *err.
func releaseInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil {
		*err = multierror.Append(*err, cerr).ErrorOrNil()
	}
}

func splitSignedBlob(blob []byte) (tbs, algID, sig []byte, err error) {
	input := cryptobyte.String(blob)
	var seq, tbsElem, algElem cryptobyte.String
	var bits asn1.BitString

	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Element(&tbsElem, casn1.SEQUENCE) ||
		!seq.ReadASN1Element(&algElem, casn1.SEQUENCE) ||
		!seq.ReadASN1BitString(&bits) || !seq.Empty() {
		return nil, nil, nil, ErrMalformedSignedData
	}
	if bits.BitLength%8 != 0 {
		return nil, nil, nil, ErrMalformedSignedData
	}
	return tbsElem, algElem, bits.Bytes, nil
}
