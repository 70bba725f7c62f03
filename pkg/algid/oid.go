package algid

import "encoding/asn1"

// Hash algorithm OIDs.
var (
	OIDMD5    = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// Public key algorithm OIDs (SubjectPublicKeyInfo).
var (
	OIDPublicKeyRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDPublicKeyDSA   = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	OIDPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
)

// RSA signature algorithm OIDs (PKCS#1).
var (
	OIDMD5WithRSA    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 4}
	OIDSHA1WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}

	OIDRSASSAPSS = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDMGF1      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
)

// DSA and ECDSA signature algorithm OIDs.
var (
	OIDSHA1WithDSA = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 3}

	OIDSHA1WithECDSA   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	OIDECDSASpecified  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3}
	OIDSHA256WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSHA384WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSHA512WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// combinedForm is a signature OID naming both hash and key algorithm.
type combinedForm struct {
	oid  asn1.ObjectIdentifier
	key  KeyAlgorithm
	hash HashAlgorithm
}

var combinedForms = []combinedForm{
	{OIDMD5WithRSA, KeyRSA, MD5},
	{OIDSHA1WithRSA, KeyRSA, SHA1},
	{OIDSHA256WithRSA, KeyRSA, SHA256},
	{OIDSHA384WithRSA, KeyRSA, SHA384},
	{OIDSHA512WithRSA, KeyRSA, SHA512},
	{OIDSHA1WithDSA, KeyDSA, SHA1},
	{OIDSHA1WithECDSA, KeyECDSA, SHA1},
	{OIDSHA256WithECDSA, KeyECDSA, SHA256},
	{OIDSHA384WithECDSA, KeyECDSA, SHA384},
	{OIDSHA512WithECDSA, KeyECDSA, SHA512},
}

func lookupCombined(oid asn1.ObjectIdentifier) (combinedForm, bool) {
	for _, c := range combinedForms {
		if c.oid.Equal(oid) {
			return c, true
		}
	}
	return combinedForm{}, false
}

func combinedOID(key KeyAlgorithm, hash HashAlgorithm) (asn1.ObjectIdentifier, bool) {
	for _, c := range combinedForms {
		if c.key == key && c.hash == hash {
			return c.oid, true
		}
	}
	return nil, false
}
