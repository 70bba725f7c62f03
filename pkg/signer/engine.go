package signer

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// signNative signs digest with h and returns the provider's native output
// (r||s for DSA and ECDSA) together with the parameters actually applied.
// Legacy RSA keys always use PKCS#1 v1.5 and legacy DSA keys always SHA-1.
func signNative(h keystore.KeyHandle, digest []byte, p algid.Params) ([]byte, algid.Params, error) {
	switch h := h.(type) {
	case *keystore.ModernHandle:
		key, err := h.Key()
		if err != nil {
			return nil, p, err
		}
		var sig []byte
		var st keystore.Status
		switch p.Key {
		case algid.KeyRSA:
			pad := paddingInfo(p)
			sig, st = callSized(func(out []byte) (int, keystore.Status) {
				return key.SignHash(pad, digest, out)
			})
		case algid.KeyDSA, algid.KeyECDSA:
			sig, st = callSized(func(out []byte) (int, keystore.Status) {
				return key.SignHash(nil, digest, out)
			})
		default:
			return nil, p, fmt.Errorf("%w: key algorithm %s", ErrUnsupportedAlgorithm, p.Key)
		}
		if !st.OK() {
			return nil, p, &StatusError{Op: "sign", Status: st}
		}
		return sig, p, nil

	case *keystore.LegacyHandle:
		ctx, err := h.Context()
		if err != nil {
			return nil, p, err
		}
		switch p.Key {
		case algid.KeyRSA:
			p.Padding = algid.PaddingPKCS1
			p.SaltLength = 0
		case algid.KeyDSA:
			p.Hash = algid.SHA1
		default:
			return nil, p, fmt.Errorf("%w: legacy %s keys", ErrUnsupportedAlgorithm, p.Key)
		}
		sig, st := ctx.SignHash(p.Hash, digest)
		if !st.OK() {
			return nil, p, &StatusError{Op: "sign", Status: st}
		}
		return sig, p, nil

	default:
		return nil, p, fmt.Errorf("%w: key handle %T", ErrUnsupportedAlgorithm, h)
	}
}

// verifyNative checks a native-format signature with the public handle.
func verifyNative(h *keystore.ModernHandle, digest, sig []byte, p algid.Params) (bool, error) {
	key, err := h.Key()
	if err != nil {
		return false, err
	}

	var st keystore.Status
	switch p.Key {
	case algid.KeyRSA:
		st = key.VerifySignature(paddingInfo(p), digest, sig)
	case algid.KeyDSA, algid.KeyECDSA:
		st = key.VerifySignature(nil, digest, sig)
	default:
		return false, fmt.Errorf("%w: key algorithm %s", ErrUnsupportedAlgorithm, p.Key)
	}

	switch st {
	case keystore.StatusSuccess:
		return true, nil
	case keystore.StatusBadSignature:
		return false, nil
	default:
		return false, &StatusError{Op: "verify", Status: st}
	}
}

func paddingInfo(p algid.Params) *keystore.PaddingInfo {
	pad := &keystore.PaddingInfo{Scheme: algid.PaddingPKCS1, Hash: p.Hash}
	if p.Padding == algid.PaddingPSS {
		pad.Scheme = algid.PaddingPSS
		pad.SaltLength = p.SaltLength
	}
	return pad
}

// rawToDER converts a fixed-width r||s signature to SEQUENCE { r, s }.
func rawToDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid raw signature length %d", len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// derToRaw converts SEQUENCE { r, s } to r||s with halves of the given width.
func derToRaw(der []byte, half int) ([]byte, bool) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	r, s := new(big.Int), new(big.Int)
	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(r) || !seq.ReadASN1Integer(s) || !seq.Empty() {
		return nil, false
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*half || s.BitLen() > 8*half {
		return nil, false
	}
	out := make([]byte, 2*half)
	r.FillBytes(out[:half])
	s.FillBytes(out[half:])
	return out, true
}

// rsHalfSize returns the byte width of r and s for a DSA or ECDSA key.
func rsHalfSize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return (k.Curve.Params().BitSize + 7) / 8
	case *dsa.PublicKey: //nolint:staticcheck
		return (k.Q.BitLen() + 7) / 8
	default:
		return 0
	}
}

// auditObject identifies h in audit records.
func auditObject(h keystore.KeyHandle) audit.Object {
	switch h := h.(type) {
	case *keystore.ModernHandle:
		return audit.Object{Type: "key", Provider: h.Provider()}
	case *keystore.LegacyHandle:
		ref := h.Ref()
		return audit.Object{Type: "container", Provider: ref.Provider, Name: ref.Container, ProviderType: ref.ProviderType}
	default:
		return audit.Object{Type: "key"}
	}
}

func auditContext(p algid.Params, legacy bool) audit.Context {
	ctx := audit.Context{
		KeyAlgorithm: p.Key.String(),
		Hash:         p.Hash.String(),
		Legacy:       legacy,
		NullSigned:   p.NullSigned,
	}
	if p.Key == algid.KeyRSA {
		ctx.Padding = p.Padding.String()
		if p.Padding == algid.PaddingPSS {
			ctx.SaltLength = p.SaltLength
		}
	}
	return ctx
}
