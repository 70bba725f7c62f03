//go:build cgo

package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// PKCS11KSP is a modern key storage provider backed by a PKCS#11 token.
// Key names go through the HSMConfig key table, then are looked up by
// CKA_LABEL, or by CKA_ID as "id:<hex>".
type PKCS11KSP struct {
	name string
	cfg  HSMConfig
	pool *sessionPool
}

var _ KeyStorageProvider = (*PKCS11KSP)(nil)

// NewPKCS11KSP loads the module and opens a session pool for the token.
func NewPKCS11KSP(cfg *HSMConfig) (*PKCS11KSP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pin, err := cfg.GetPIN()
	if err != nil {
		return nil, err
	}

	slotID, err := findSlotID(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	pool, err := getSessionPool(cfg.PKCS11.Lib, slotID, pin)
	if err != nil {
		return nil, fmt.Errorf("failed to get session pool: %w", err)
	}

	return &PKCS11KSP{name: cfg.ProviderName(), cfg: *cfg, pool: pool}, nil
}

// Name returns the provider name.
func (p *PKCS11KSP) Name() string { return p.name }

// OpenKey finds a private key on the token.
func (p *PKCS11KSP) OpenKey(name string) (ProviderKey, error) {
	session, release, err := p.pool.acquire()
	if err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}
	defer release()

	ctx := p.pool.ctx
	handle, err := findPrivateKey(ctx, session, p.cfg.ObjectRef(name))
	if err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}
	pub, err := extractPublicKey(ctx, session, handle)
	if err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}
	alg, err := keyAlgorithmOf(pub)
	if err != nil {
		return nil, &KeyError{Op: "open", Name: name, Err: err}
	}
	if !p.cfg.AllowsAlgorithm(alg) {
		return nil, &KeyError{Op: "open", Name: name, Err: fmt.Errorf("%s signing is not enabled on %s", alg, p.name)}
	}

	return &pkcs11Key{pool: p.pool, handle: handle, alg: alg, pub: pub}, nil
}

// ImportPublicKey imports a verification-only key in software.
func (p *PKCS11KSP) ImportPublicKey(spki []byte) (ProviderKey, error) {
	return importSoftwarePublicKey(spki)
}

// TranslateLegacy always refuses: token keys never leave the token.
func (p *PKCS11KSP) TranslateLegacy(ctx LegacyContext) (ProviderKey, error) {
	return nil, &KeyError{Op: "translate", Name: ctx.Container().Container, Err: ErrTranslationRefused}
}

// pkcs11Key is a private key object on a token.
type pkcs11Key struct {
	pool   *sessionPool
	handle pkcs11.ObjectHandle
	alg    algid.KeyAlgorithm
	pub    crypto.PublicKey
}

func (k *pkcs11Key) Algorithm() algid.KeyAlgorithm { return k.alg }
func (k *pkcs11Key) Public() crypto.PublicKey { return k.pub }

// Free is a no-op; the session pool is released by CloseAllPools.
func (k *pkcs11Key) Free() error { return nil }

func (k *pkcs11Key) SignHash(pad *PaddingInfo, digest, out []byte) (int, Status) {
	verifier, err := newPublicSoftwareKey(k.pub)
	if err != nil {
		return 0, StatusBadKeyset
	}
	if st := verifier.checkPadding(pad, digest, true); !st.OK() {
		return 0, st
	}

	size := verifier.signatureSize()
	if out == nil {
		return size, StatusSuccess
	}
	if len(out) < size {
		return size, StatusBufferTooSmall
	}

	mech, data, st := k.mechanism(pad, digest)
	if !st.OK() {
		return 0, st
	}

	session, release, err := k.pool.acquire()
	if err != nil {
		return 0, StatusInvalidHandle
	}
	defer release()

	ctx := k.pool.ctx
	if err := ctx.SignInit(session, []*pkcs11.Mechanism{mech}, k.handle); err != nil {
		return 0, statusOf(err)
	}
	sig, err := ctx.Sign(session, data)
	if err != nil {
		return 0, statusOf(err)
	}
	if len(sig) > len(out) {
		return len(sig), StatusBufferTooSmall
	}
	return copy(out, sig), StatusSuccess
}

// VerifySignature verifies in software against the extracted public key.
func (k *pkcs11Key) VerifySignature(pad *PaddingInfo, digest, sig []byte) Status {
	verifier, err := newPublicSoftwareKey(k.pub)
	if err != nil {
		return StatusBadKeyset
	}
	return verifier.VerifySignature(pad, digest, sig)
}

func (k *pkcs11Key) mechanism(pad *PaddingInfo, digest []byte) (*pkcs11.Mechanism, []byte, Status) {
	switch k.alg {
	case algid.KeyECDSA:
		return pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), digest, StatusSuccess

	case algid.KeyDSA:
		if len(digest) != algid.SHA1.Size() {
			return nil, nil, StatusInvalidParameter
		}
		q := k.pub.(*dsa.PublicKey).Q //nolint:staticcheck
		return pkcs11.NewMechanism(pkcs11.CKM_DSA, nil), truncateDigest(digest, q), StatusSuccess

	case algid.KeyRSA:
		if pad.Scheme == algid.PaddingPSS {
			hashMech, mgf, ok := pssMechanisms(pad.Hash)
			if !ok {
				return nil, nil, StatusNotSupported
			}
			params := pkcs11.NewPSSParams(hashMech, mgf, uint(pad.SaltLength))
			return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params), digest, StatusSuccess
		}
		prefix, ok := digestInfoPrefixes[pad.Hash]
		if !ok {
			return nil, nil, StatusNotSupported
		}
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), append(append([]byte{}, prefix...), digest...), StatusSuccess

	default:
		return nil, nil, StatusNotSupported
	}
}

// DigestInfo prefixes for PKCS#1 v1.5 signatures (RFC 8017).
var digestInfoPrefixes = map[algid.HashAlgorithm][]byte{
	algid.MD5:    {0x30, 0x20, 0x30, 0x0c, 0x06, 0x08, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x02, 0x05, 0x05, 0x00, 0x04, 0x10},
	algid.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	algid.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	algid.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	algid.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

func pssMechanisms(h algid.HashAlgorithm) (hashMech, mgf uint, ok bool) {
	switch h {
	case algid.SHA1:
		return pkcs11.CKM_SHA_1, pkcs11.CKG_MGF1_SHA1, true
	case algid.SHA256:
		return pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, true
	case algid.SHA384:
		return pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384, true
	case algid.SHA512:
		return pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512, true
	default:
		return 0, 0, false
	}
}

// statusOf maps a PKCS#11 return value onto a native status.
func statusOf(err error) Status {
	p11err, ok := err.(pkcs11.Error)
	if !ok {
		return StatusInternalError
	}
	switch p11err {
	case pkcs11.CKR_MECHANISM_INVALID, pkcs11.CKR_MECHANISM_PARAM_INVALID, pkcs11.CKR_KEY_TYPE_INCONSISTENT:
		return StatusNotSupported
	case pkcs11.CKR_DATA_LEN_RANGE, pkcs11.CKR_DATA_INVALID, pkcs11.CKR_ARGUMENTS_BAD:
		return StatusInvalidParameter
	case pkcs11.CKR_KEY_HANDLE_INVALID, pkcs11.CKR_SESSION_HANDLE_INVALID, pkcs11.CKR_SESSION_CLOSED:
		return StatusInvalidHandle
	case pkcs11.CKR_BUFFER_TOO_SMALL:
		return StatusBufferTooSmall
	default:
		return StatusInternalError
	}
}

func findSlotID(cfg *HSMConfig) (uint, error) {
	if cfg.PKCS11.Slot != nil {
		return *cfg.PKCS11.Slot, nil
	}

	ctx, err := loadModule(cfg.PKCS11.Lib)
	if err != nil {
		return 0, err
	}
	// C_Finalize is process-wide; the context is destroyed without it.
	defer ctx.Destroy()

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens found")
	}

	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.PKCS11.Token != "" && info.Label == cfg.PKCS11.Token {
			return slot, nil
		}
		if cfg.PKCS11.TokenSerial != "" && info.SerialNumber == cfg.PKCS11.TokenSerial {
			return slot, nil
		}
	}

	if cfg.PKCS11.Token != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.PKCS11.Token)
	}
	return 0, fmt.Errorf("token with serial %q not found", cfg.PKCS11.TokenSerial)
}

func findPrivateKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, name string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if id, ok := strings.CutPrefix(name, "id:"); ok {
		raw, err := hex.DecodeString(id)
		if err != nil {
			return 0, fmt.Errorf("invalid key id hex: %w", err)
		}
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, raw))
	} else {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, name))
	}

	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to find objects: %w", err)
	}
	switch len(objs) {
	case 0:
		return 0, ErrKeyNotFound
	case 1:
		return objs[0], nil
	default:
		return 0, fmt.Errorf("multiple keys match %q, address the key by id", name)
	}
}

func findPublicKeyForPrivate(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, priv pkcs11.ObjectHandle) (pkcs11.ObjectHandle, error) {
	attrs, err := ctx.GetAttributeValue(session, priv, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get private key ID/label/type: %w", err)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, attrs[0].Value),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, attrs[1].Value),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, attrs[2].Value),
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find public key: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to find public key: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("public key not found for private key")
	}
	return objs[0], nil
}

func extractPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, priv pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, priv, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key type: %w", err)
	}

	pubHandle, err := findPublicKeyForPrivate(ctx, session, priv)
	if err != nil {
		return nil, err
	}

	switch keyType := bytesToUint(attrs[0].Value); keyType {
	case pkcs11.CKK_RSA:
		return extractRSAPublicKey(ctx, session, pubHandle)
	case pkcs11.CKK_EC:
		return extractECPublicKey(ctx, session, pubHandle)
	case pkcs11.CKK_DSA:
		return extractDSAPublicKey(ctx, session, pubHandle)
	default:
		return nil, fmt.Errorf("%w: key type 0x%X", algid.ErrUnsupportedAlgorithm, keyType)
	}
}

func extractRSAPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, pub pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, pub, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get RSA attributes: %w", err)
	}
	// The public exponent is a big-endian big integer, not a CK_ULONG.
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

func extractECPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, pub pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, pub, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC attributes: %w", err)
	}

	curve, err := parseECParams(attrs[0].Value)
	if err != nil {
		return nil, err
	}

	// CKA_EC_POINT is a DER OCTET STRING around the uncompressed point.
	point := attrs[1].Value
	in := cryptobyte.String(point)
	var inner cryptobyte.String
	if in.ReadASN1(&inner, casn1.OCTET_STRING) && in.Empty() {
		point = inner
	}

	x, y := elliptic.Unmarshal(curve, point) //nolint:staticcheck // ECDSA point decoding
	if x == nil {
		return nil, fmt.Errorf("failed to unmarshal EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func extractDSAPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, pub pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, pub, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_PRIME, nil),
		pkcs11.NewAttribute(pkcs11.CKA_SUBPRIME, nil),
		pkcs11.NewAttribute(pkcs11.CKA_BASE, nil),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get DSA attributes: %w", err)
	}
	return &dsa.PublicKey{ //nolint:staticcheck
		Parameters: dsa.Parameters{ //nolint:staticcheck
			P: new(big.Int).SetBytes(attrs[0].Value),
			Q: new(big.Int).SetBytes(attrs[1].Value),
			G: new(big.Int).SetBytes(attrs[2].Value),
		},
		Y: new(big.Int).SetBytes(attrs[3].Value),
	}, nil
}

func parseECParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("failed to parse EC params OID: %w", err)
	}
	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: EC curve %v", algid.ErrUnsupportedAlgorithm, oid)
	}
}

// bytesToUint decodes a native-endian CK_ULONG attribute.
func bytesToUint(b []byte) uint {
	var result uint
	for i := len(b) - 1; i >= 0; i-- {
		result = result<<8 | uint(b[i])
	}
	return result
}
