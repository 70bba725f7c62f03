package signer

import (
	"crypto"
	"errors"
	"testing"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// =============================================================================
// Sign / Verify Round Trips
// =============================================================================

func TestF_Signer_RoundTrip(t *testing.T) {
	rsaKey, ecKey, dsaKey := testKeys(t)

	tests := []struct {
		name    string
		priv    crypto.PrivateKey
		pub     crypto.PublicKey
		hash    algid.HashAlgorithm
		padding algid.Padding
	}{
		{"[Functional] RSA PKCS1 SHA1", rsaKey, &rsaKey.PublicKey, algid.SHA1, algid.PaddingPKCS1},
		{"[Functional] RSA PKCS1 SHA256", rsaKey, &rsaKey.PublicKey, algid.SHA256, algid.PaddingPKCS1},
		{"[Functional] RSA PKCS1 SHA384", rsaKey, &rsaKey.PublicKey, algid.SHA384, algid.PaddingPKCS1},
		{"[Functional] RSA PKCS1 SHA512", rsaKey, &rsaKey.PublicKey, algid.SHA512, algid.PaddingPKCS1},
		{"[Functional] RSA PSS SHA256", rsaKey, &rsaKey.PublicKey, algid.SHA256, algid.PaddingPSS},
		{"[Functional] RSA PSS SHA512", rsaKey, &rsaKey.PublicKey, algid.SHA512, algid.PaddingPSS},
		{"[Functional] ECDSA SHA1", ecKey, &ecKey.PublicKey, algid.SHA1, algid.PaddingNone},
		{"[Functional] ECDSA SHA256", ecKey, &ecKey.PublicKey, algid.SHA256, algid.PaddingNone},
		{"[Functional] ECDSA SHA384", ecKey, &ecKey.PublicKey, algid.SHA384, algid.PaddingNone},
		{"[Functional] ECDSA SHA512", ecKey, &ecKey.PublicKey, algid.SHA512, algid.PaddingNone},
		{"[Functional] DSA SHA1", dsaKey, &dsaKey.PublicKey, algid.SHA1, algid.PaddingNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := requestSigner(t, tt.priv, tt.pub, tt.hash, nil)
			s.SetPadding(tt.padding)

			msg := []byte("message to sign")
			sig, err := s.SignData(msg)
			if err != nil {
				t.Fatalf("SignData() error = %v", err)
			}

			ok, err := s.VerifyData(msg, sig)
			if err != nil || !ok {
				t.Fatalf("VerifyData() = %v, %v, want true", ok, err)
			}
			ok, err = s.VerifyData([]byte("another message"), sig)
			if err != nil || ok {
				t.Errorf("VerifyData(other message) = %v, %v, want false", ok, err)
			}
			ok, err = s.VerifyData(msg, flipped(sig, len(sig)-1))
			if err != nil || ok {
				t.Errorf("VerifyData(mutated signature) = %v, %v, want false", ok, err)
			}

			digest, _ := tt.hash.Sum(msg)
			ok, err = s.VerifyHash(digest, sig)
			if err != nil || !ok {
				t.Errorf("VerifyHash() = %v, %v, want true", ok, err)
			}
			ok, err = s.VerifyHash(flipped(digest, 0), sig)
			if err != nil || ok {
				t.Errorf("VerifyHash(mutated digest) = %v, %v, want false", ok, err)
			}
		})
	}
}

func TestF_Signer_RSASHA256KnownMessages(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	s := requestSigner(t, rsaKey, &rsaKey.PublicKey, algid.SHA256, nil)

	sig, err := s.SignData([]byte("test"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	if len(sig) != 256 {
		t.Errorf("signature length = %d, want 256", len(sig))
	}

	if ok, err := s.VerifyData([]byte("test"), sig); err != nil || !ok {
		t.Errorf("VerifyData(test) = %v, %v, want true", ok, err)
	}
	if ok, err := s.VerifyData([]byte("Test"), sig); err != nil || ok {
		t.Errorf("VerifyData(Test) = %v, %v, want false", ok, err)
	}
}

func TestF_Signer_SignHashMatchesSignData(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := requestSigner(t, ecKey, &ecKey.PublicKey, algid.SHA384, nil)

	digest, _ := algid.SHA384.Sum([]byte("payload"))
	sig, err := s.SignHash(digest)
	if err != nil {
		t.Fatalf("SignHash() error = %v", err)
	}
	if ok, err := s.VerifyData([]byte("payload"), sig); err != nil || !ok {
		t.Errorf("VerifyData() = %v, %v, want true", ok, err)
	}
}

func TestF_Signer_VerifyOnlySigner(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := requestSigner(t, ecKey, &ecKey.PublicKey, algid.SHA256, nil)
	sig, err := s.SignData([]byte("payload"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}

	v := publicSigner(t, &ecKey.PublicKey, algid.SHA256, nil)
	if ok, err := v.VerifyData([]byte("payload"), sig); err != nil || !ok {
		t.Errorf("VerifyData() = %v, %v, want true", ok, err)
	}

	_, err = v.SignData([]byte("payload"))
	if !errors.Is(err, ErrPrivateKeyUnavailable) {
		t.Errorf("SignData() on public signer error = %v, want ErrPrivateKeyUnavailable", err)
	}
}

func TestU_Signer_MalformedDERSignature(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := publicSigner(t, &ecKey.PublicKey, algid.SHA256, nil)

	for _, sig := range [][]byte{{}, {0x30, 0x00}, {0x02, 0x01, 0x01}, make([]byte, 64)} {
		ok, err := s.VerifyData([]byte("payload"), sig)
		if err != nil || ok {
			t.Errorf("VerifyData(%x) = %v, %v, want false, nil", sig, ok, err)
		}
	}
}

// =============================================================================
// Configuration
// =============================================================================

func TestU_Signer_Defaults(t *testing.T) {
	rsaKey, ecKey, dsaKey := testKeys(t)

	tests := []struct {
		name        string
		pub         crypto.PublicKey
		hash        algid.HashAlgorithm
		wantKey     algid.KeyAlgorithm
		wantHash    algid.HashAlgorithm
		wantPadding algid.Padding
	}{
		{"[Unit] RSA default hash", &rsaKey.PublicKey, "", algid.KeyRSA, algid.SHA256, algid.PaddingPKCS1},
		{"[Unit] ECDSA SHA384", &ecKey.PublicKey, algid.SHA384, algid.KeyECDSA, algid.SHA384, algid.PaddingNone},
		{"[Unit] DSA pinned to SHA1", &dsaKey.PublicKey, algid.SHA512, algid.KeyDSA, algid.SHA1, algid.PaddingNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := publicSigner(t, tt.pub, tt.hash, nil)
			if s.KeyAlgorithm() != tt.wantKey {
				t.Errorf("KeyAlgorithm() = %s, want %s", s.KeyAlgorithm(), tt.wantKey)
			}
			if s.Hash() != tt.wantHash {
				t.Errorf("Hash() = %s, want %s", s.Hash(), tt.wantHash)
			}
			if s.Padding() != tt.wantPadding {
				t.Errorf("Padding() = %s, want %s", s.Padding(), tt.wantPadding)
			}
			if s.NullSigned() {
				t.Error("NullSigned() = true, want false")
			}
		})
	}
}

func TestU_Signer_InvalidHash(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	_, err := NewFromPublicKey(publicInfo(t, &ecKey.PublicKey), "SHA3-256", nil)
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("NewFromPublicKey() error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestU_Signer_NilArguments(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := publicSigner(t, &ecKey.PublicKey, algid.SHA256, nil)

	if _, err := NewFromCertificate(nil, "", nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("NewFromCertificate(nil) error = %v", err)
	}
	if _, err := NewFromKeyRequest(nil, "", nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("NewFromKeyRequest(nil) error = %v", err)
	}
	if _, err := NewFromPublicKey(nil, "", nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("NewFromPublicKey(nil) error = %v", err)
	}
	if _, err := s.SignData(nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("SignData(nil) error = %v", err)
	}
	if _, err := s.SignHash(nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("SignHash(nil) error = %v", err)
	}
	if _, err := s.VerifyData([]byte("x"), nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("VerifyData(nil sig) error = %v", err)
	}
	if _, err := s.VerifyHash(nil, []byte("x")); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("VerifyHash(nil digest) error = %v", err)
	}
	if err := s.ApplyAlgorithmIdentifier(nil); !errors.Is(err, ErrArgumentNull) {
		t.Errorf("ApplyAlgorithmIdentifier(nil) error = %v", err)
	}
}

func TestU_Signer_SetPadding(t *testing.T) {
	rsaKey, ecKey, _ := testKeys(t)

	r := publicSigner(t, &rsaKey.PublicKey, algid.SHA256, nil)
	r.SetPadding(algid.PaddingPSS)
	if r.Padding() != algid.PaddingPSS {
		t.Errorf("Padding() = %s, want PSS", r.Padding())
	}
	r.SetPadding(algid.PaddingNone)
	if r.Padding() != algid.PaddingPKCS1 {
		t.Errorf("Padding() after PaddingNone = %s, want PKCS1", r.Padding())
	}

	e := publicSigner(t, &ecKey.PublicKey, algid.SHA256, nil)
	e.SetPadding(algid.PaddingPSS)
	if e.Padding() != algid.PaddingNone {
		t.Errorf("ECDSA Padding() = %s, want None", e.Padding())
	}
}

func TestF_Signer_PSSSaltLength(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	s := requestSigner(t, rsaKey, &rsaKey.PublicKey, algid.SHA256, nil)
	s.SetPadding(algid.PaddingPSS)

	if got := s.SaltLength(); got != 32 {
		t.Errorf("default SaltLength() = %d, want 32", got)
	}
	if err := s.SetSaltLength(-1); err == nil {
		t.Error("SetSaltLength(-1) should fail")
	}
	if err := s.SetSaltLength(20); err != nil {
		t.Fatalf("SetSaltLength(20) error = %v", err)
	}

	sig, err := s.SignData([]byte("salted"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	ai := s.SignatureAlgorithm()
	if ai == nil {
		t.Fatal("SignatureAlgorithm() = nil after sign")
	}
	p, err := algid.DecodeAlgorithmIdentifier(*ai)
	if err != nil {
		t.Fatalf("DecodeAlgorithmIdentifier() error = %v", err)
	}
	if p.Padding != algid.PaddingPSS || p.SaltLength != 20 || p.Hash != algid.SHA256 {
		t.Errorf("signature algorithm = %s, want PSS SHA256 salt 20", p)
	}
	if ok, err := s.VerifyData([]byte("salted"), sig); err != nil || !ok {
		t.Errorf("VerifyData() = %v, %v, want true", ok, err)
	}
}

func TestU_Signer_PSSZeroSaltNotSignable(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	s := requestSigner(t, rsaKey, &rsaKey.PublicKey, algid.SHA256, nil)
	s.SetPadding(algid.PaddingPSS)
	if err := s.SetSaltLength(0); err != nil {
		t.Fatalf("SetSaltLength(0) error = %v", err)
	}

	_, err := s.SignData([]byte("payload"))
	if !errors.Is(err, ErrSigningFailure) {
		t.Fatalf("SignData() error = %v, want ErrSigningFailure", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Status != keystore.StatusNotSupported {
		t.Errorf("SignData() error = %v, want status NotSupported", err)
	}
}

func TestU_Signer_DSARejectsNonSHA1Digest(t *testing.T) {
	_, _, dsaKey := testKeys(t)
	s := requestSigner(t, dsaKey, &dsaKey.PublicKey, algid.SHA512, nil)

	for _, h := range []algid.HashAlgorithm{algid.SHA256, algid.SHA512} {
		digest, _ := h.Sum([]byte("payload"))
		_, err := s.SignHash(digest)
		if !errors.Is(err, ErrSigningFailure) {
			t.Fatalf("SignHash(%s digest) error = %v, want ErrSigningFailure", h, err)
		}
		var serr *StatusError
		if !errors.As(err, &serr) || serr.Status != keystore.StatusInvalidParameter {
			t.Errorf("SignHash(%s digest) error = %v, want status InvalidParameter", h, err)
		}
	}

	digest, _ := algid.SHA1.Sum([]byte("payload"))
	if _, err := s.SignHash(digest); err != nil {
		t.Errorf("SignHash(SHA1 digest) error = %v", err)
	}
}

// =============================================================================
// AlgorithmIdentifier
// =============================================================================

func TestU_Signer_AlgorithmIdentifier(t *testing.T) {
	rsaKey, ecKey, dsaKey := testKeys(t)

	tests := []struct {
		name       string
		pub        crypto.PublicKey
		hash       algid.HashAlgorithm
		padding    algid.Padding
		alternate  bool
		wantOID    string
		wantParams bool
	}{
		{"[Unit] RSA PKCS1", &rsaKey.PublicKey, algid.SHA256, algid.PaddingPKCS1, false, algid.OIDSHA256WithRSA.String(), true},
		{"[Unit] RSA PSS", &rsaKey.PublicKey, algid.SHA384, algid.PaddingPSS, false, algid.OIDRSASSAPSS.String(), true},
		{"[Unit] ECDSA", &ecKey.PublicKey, algid.SHA256, algid.PaddingNone, false, algid.OIDSHA256WithECDSA.String(), false},
		{"[Unit] ECDSA alternate", &ecKey.PublicKey, algid.SHA256, algid.PaddingNone, true, algid.OIDECDSASpecified.String(), true},
		{"[Unit] DSA", &dsaKey.PublicKey, algid.SHA1, algid.PaddingNone, false, algid.OIDSHA1WithDSA.String(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := publicSigner(t, tt.pub, tt.hash, nil)
			s.SetPadding(tt.padding)

			oid, params, err := s.AlgorithmIdentifier(tt.alternate)
			if err != nil {
				t.Fatalf("AlgorithmIdentifier() error = %v", err)
			}
			if oid.String() != tt.wantOID {
				t.Errorf("OID = %s, want %s", oid, tt.wantOID)
			}
			if (params != nil) != tt.wantParams {
				t.Errorf("params = %x, want present = %v", params, tt.wantParams)
			}
		})
	}
}

func TestU_Signer_SignatureAlgorithmBeforeSign(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := requestSigner(t, ecKey, &ecKey.PublicKey, algid.SHA256, nil)

	if s.SignatureAlgorithm() != nil {
		t.Fatal("SignatureAlgorithm() should be nil before the first sign")
	}
	if _, err := s.SignData([]byte("x")); err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	ai := s.SignatureAlgorithm()
	if ai == nil || !ai.Algorithm.Equal(algid.OIDSHA256WithECDSA) {
		t.Errorf("SignatureAlgorithm() = %v, want ecdsa-with-SHA256", ai)
	}
}

func TestU_Signer_UnencodableCombinationDoesNotSign(t *testing.T) {
	mem := withAudit(t)
	_, ecKey, _ := testKeys(t)
	s := requestSigner(t, ecKey, &ecKey.PublicKey, algid.MD5, nil)

	_, err := s.SignData([]byte("x"))
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("SignData() error = %v, want ErrUnsupportedAlgorithm", err)
	}
	if n := len(mem.Filter(audit.EventSign)); n != 0 {
		t.Errorf("SIGN events = %d, want 0", n)
	}
	if s.SignatureAlgorithm() != nil {
		t.Error("SignatureAlgorithm() should stay nil after a failed sign")
	}
}

func TestU_Signer_ApplyAlgorithmIdentifier(t *testing.T) {
	rsaKey, _, _ := testKeys(t)

	t.Run("[Unit] PSS parameters", func(t *testing.T) {
		s := publicSigner(t, &rsaKey.PublicKey, algid.SHA256, nil)
		der, err := algid.Marshal(algid.Params{Key: algid.KeyRSA, Hash: algid.SHA512, Padding: algid.PaddingPSS, SaltLength: 48}, false)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if err := s.ApplyAlgorithmIdentifier(der); err != nil {
			t.Fatalf("ApplyAlgorithmIdentifier() error = %v", err)
		}
		if s.Hash() != algid.SHA512 || s.Padding() != algid.PaddingPSS || s.SaltLength() != 48 {
			t.Errorf("signer = %s/%s/%d, want SHA512/PSS/48", s.Hash(), s.Padding(), s.SaltLength())
		}
	})

	t.Run("[Unit] key mismatch", func(t *testing.T) {
		s := publicSigner(t, &rsaKey.PublicKey, algid.SHA256, nil)
		der, _ := algid.Marshal(algid.Params{Key: algid.KeyECDSA, Hash: algid.SHA256}, false)
		if err := s.ApplyAlgorithmIdentifier(der); !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Errorf("ApplyAlgorithmIdentifier() error = %v, want ErrUnsupportedAlgorithm", err)
		}
	})

	t.Run("[Unit] malformed", func(t *testing.T) {
		s := publicSigner(t, &rsaKey.PublicKey, algid.SHA256, nil)
		if err := s.ApplyAlgorithmIdentifier([]byte{0x30, 0x03, 0x06}); !errors.Is(err, ErrMalformedAlgorithmIdentifier) {
			t.Errorf("ApplyAlgorithmIdentifier() error = %v, want ErrMalformedAlgorithmIdentifier", err)
		}
	})
}

// =============================================================================
// Null-Signed Data
// =============================================================================

func TestF_Signer_NullSigned(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	der, err := algid.Marshal(algid.Params{Hash: algid.SHA256, NullSigned: true}, false)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	t.Run("[Functional] refused by default", func(t *testing.T) {
		s := publicSigner(t, &rsaKey.PublicKey, algid.SHA256, nil)
		if err := s.ApplyAlgorithmIdentifier(der); !errors.Is(err, ErrNullSignedNotAllowed) {
			t.Errorf("ApplyAlgorithmIdentifier() error = %v, want ErrNullSignedNotAllowed", err)
		}
		if s.NullSigned() {
			t.Error("NullSigned() = true after refusal")
		}
	})

	t.Run("[Functional] digest is the signature", func(t *testing.T) {
		s := publicSigner(t, &rsaKey.PublicKey, algid.SHA1, &Options{AcceptNullSigned: true})
		if err := s.ApplyAlgorithmIdentifier(der); err != nil {
			t.Fatalf("ApplyAlgorithmIdentifier() error = %v", err)
		}
		if !s.NullSigned() || s.Hash() != algid.SHA256 {
			t.Fatalf("NullSigned() = %v, Hash() = %s", s.NullSigned(), s.Hash())
		}

		digest, _ := algid.SHA256.Sum([]byte("data"))
		sig, err := s.SignHash(digest)
		if err != nil {
			t.Fatalf("SignHash() error = %v", err)
		}
		if string(sig) != string(digest) {
			t.Errorf("signature = %x, want digest %x", sig, digest)
		}
		if ok, err := s.VerifyData([]byte("data"), sig); err != nil || !ok {
			t.Errorf("VerifyData() = %v, %v, want true", ok, err)
		}
		if ok, err := s.VerifyHash(digest, flipped(sig, 3)); err != nil || ok {
			t.Errorf("VerifyHash(mutated) = %v, %v, want false", ok, err)
		}
		if ok, err := s.VerifyHash(digest, sig[:10]); err != nil || ok {
			t.Errorf("VerifyHash(short) = %v, %v, want false", ok, err)
		}
		if _, err := s.SignHash(digest[:10]); !errors.Is(err, ErrSigningFailure) {
			t.Errorf("SignHash(short digest) error = %v, want ErrSigningFailure", err)
		}

		ai := s.SignatureAlgorithm()
		if ai == nil || !ai.Algorithm.Equal(algid.OIDSHA256) {
			t.Errorf("SignatureAlgorithm() = %v, want bare SHA256", ai)
		}
	})
}

// =============================================================================
// Legacy Keys
// =============================================================================

func TestF_Signer_LegacyRSAForcesPKCS1(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	reg := keystore.NewRegistry()
	csp := keystore.NewSoftwareCSP("Legacy RSA Provider", keystore.ProvRSAFull, "", nil)
	if err := csp.StoreKey("legacy", rsaKey, false); err != nil {
		t.Fatalf("StoreKey() error = %v", err)
	}
	if err := reg.RegisterCSP(csp); err != nil {
		t.Fatalf("RegisterCSP() error = %v", err)
	}

	cert := keystore.NewStoreCertificate(selfSigned(t, rsaKey), keystore.KeyBinding{
		Provider:     "Legacy RSA Provider",
		Container:    "legacy",
		ProviderType: keystore.ProvRSAFull,
	}, reg)

	s, err := NewFromCertificate(cert, algid.SHA256, &Options{Registry: reg})
	if err != nil {
		t.Fatalf("NewFromCertificate() error = %v", err)
	}
	defer s.Close()
	s.SetPadding(algid.PaddingPSS)

	sig, err := s.SignData([]byte("legacy"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	if !s.Legacy() {
		t.Error("Legacy() = false, want true for a non-exportable container")
	}
	if s.Padding() != algid.PaddingPKCS1 {
		t.Errorf("Padding() = %s, want PKCS1 after a legacy sign", s.Padding())
	}
	if ai := s.SignatureAlgorithm(); ai == nil || !ai.Algorithm.Equal(algid.OIDSHA256WithRSA) {
		t.Errorf("SignatureAlgorithm() = %v, want sha256WithRSAEncryption", ai)
	}
	if ok, err := s.VerifyData([]byte("legacy"), sig); err != nil || !ok {
		t.Errorf("VerifyData() = %v, %v, want true", ok, err)
	}
}

func TestF_Signer_LegacyDSARequest(t *testing.T) {
	_, _, dsaKey := testKeys(t)
	reg := keystore.NewRegistry()
	csp := keystore.NewSoftwareCSP("Legacy DSS Provider", keystore.ProvDSS, "", nil)
	if err := csp.StoreKey("dss", dsaKey, false); err != nil {
		t.Fatalf("StoreKey() error = %v", err)
	}
	if err := reg.RegisterCSP(csp); err != nil {
		t.Fatalf("RegisterCSP() error = %v", err)
	}

	req := &keystore.KeyRequest{
		ProviderName:  "Legacy DSS Provider",
		ContainerName: "dss",
		ProviderType:  keystore.ProvDSS,
		PublicKey:     publicInfo(t, &dsaKey.PublicKey),
	}
	s, err := NewFromKeyRequest(req, algid.SHA256, &Options{Registry: reg})
	if err != nil {
		t.Fatalf("NewFromKeyRequest() error = %v", err)
	}
	defer s.Close()

	sig, err := s.SignData([]byte("dss"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	if !s.Legacy() {
		t.Error("Legacy() = false, want true")
	}
	if ok, err := s.VerifyData([]byte("dss"), sig); err != nil || !ok {
		t.Errorf("VerifyData() = %v, %v, want true", ok, err)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestU_Signer_Close(t *testing.T) {
	_, ecKey, _ := testKeys(t)
	s := requestSigner(t, ecKey, &ecKey.PublicKey, algid.SHA256, nil)
	sig, err := s.SignData([]byte("x"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := s.SignData([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("SignData() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.VerifyData([]byte("x"), sig); !errors.Is(err, ErrClosed) {
		t.Errorf("VerifyData() after Close error = %v, want ErrClosed", err)
	}
}

// =============================================================================
// Audit
// =============================================================================

func TestF_Signer_AuditEvents(t *testing.T) {
	mem := withAudit(t)
	rsaKey, _, _ := testKeys(t)
	s := requestSigner(t, rsaKey, &rsaKey.PublicKey, algid.SHA256, nil)

	sig, err := s.SignData([]byte("audited"))
	if err != nil {
		t.Fatalf("SignData() error = %v", err)
	}
	if _, err := s.VerifyData([]byte("audited"), sig); err != nil {
		t.Fatalf("VerifyData() error = %v", err)
	}
	if _, err := s.VerifyData([]byte("tampered"), sig); err != nil {
		t.Fatalf("VerifyData() error = %v", err)
	}

	signs := mem.Filter(audit.EventSign)
	if len(signs) != 1 {
		t.Fatalf("SIGN events = %d, want 1", len(signs))
	}
	if signs[0].Result != audit.ResultSuccess || signs[0].Context.Padding != "pkcs1" {
		t.Errorf("SIGN event = %+v", signs[0])
	}

	verifies := mem.Filter(audit.EventVerify)
	if len(verifies) != 2 {
		t.Fatalf("VERIFY events = %d, want 2", len(verifies))
	}
	if !verifies[0].Context.Verified || verifies[1].Context.Verified {
		t.Errorf("VERIFY verified flags = %v, %v, want true, false",
			verifies[0].Context.Verified, verifies[1].Context.Verified)
	}
	if len(mem.Filter(audit.EventKeyAccessed)) != 1 {
		t.Errorf("KEY_ACCESSED events = %d, want 1", len(mem.Filter(audit.EventKeyAccessed)))
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestU_CallSized(t *testing.T) {
	t.Run("[Unit] two phase", func(t *testing.T) {
		calls := 0
		out, st := callSized(func(out []byte) (int, keystore.Status) {
			calls++
			if out == nil {
				return 4, keystore.StatusSuccess
			}
			copy(out, "abcd")
			return 4, keystore.StatusSuccess
		})
		if !st.OK() || string(out) != "abcd" || calls != 2 {
			t.Errorf("callSized() = %q, %s after %d calls", out, st, calls)
		}
	})

	t.Run("[Unit] retries once when the size grows", func(t *testing.T) {
		calls := 0
		out, st := callSized(func(out []byte) (int, keystore.Status) {
			calls++
			switch {
			case out == nil:
				return 2, keystore.StatusSuccess
			case len(out) < 3:
				return 3, keystore.StatusBufferTooSmall
			default:
				copy(out, "xyz")
				return 3, keystore.StatusSuccess
			}
		})
		if !st.OK() || string(out) != "xyz" || calls != 3 {
			t.Errorf("callSized() = %q, %s after %d calls", out, st, calls)
		}
	})

	t.Run("[Unit] size query failure", func(t *testing.T) {
		_, st := callSized(func(out []byte) (int, keystore.Status) {
			return 0, keystore.StatusInvalidParameter
		})
		if st != keystore.StatusInvalidParameter {
			t.Errorf("callSized() status = %s, want InvalidParameter", st)
		}
	})
}

func TestU_RawDERConversion(t *testing.T) {
	raw := make([]byte, 64)
	raw[0] = 0x80 // high bit set, needs a leading zero in DER
	raw[31] = 0x01
	raw[63] = 0x02

	der, err := rawToDER(raw)
	if err != nil {
		t.Fatalf("rawToDER() error = %v", err)
	}
	back, ok := derToRaw(der, 32)
	if !ok {
		t.Fatal("derToRaw() rejected rawToDER output")
	}
	if string(back) != string(raw) {
		t.Errorf("derToRaw() = %x, want %x", back, raw)
	}

	if _, err := rawToDER(raw[:63]); err == nil {
		t.Error("rawToDER() should reject odd lengths")
	}
	if _, ok := derToRaw(der, 16); ok {
		t.Error("derToRaw() should reject integers wider than the half size")
	}
}

func TestU_StatusError(t *testing.T) {
	signErr := &StatusError{Op: "sign", Status: keystore.StatusBadKeyset}
	verifyErr := &StatusError{Op: "verify", Status: keystore.StatusInvalidHandle}

	if !errors.Is(signErr, ErrSigningFailure) || errors.Is(signErr, ErrVerificationFailure) {
		t.Error("sign StatusError should match only ErrSigningFailure")
	}
	if !errors.Is(verifyErr, ErrVerificationFailure) || errors.Is(verifyErr, ErrSigningFailure) {
		t.Error("verify StatusError should match only ErrVerificationFailure")
	}
	if !errors.Is(newError("sign", signErr), ErrSigningFailure) {
		t.Error("wrapped StatusError should still match ErrSigningFailure")
	}
}
