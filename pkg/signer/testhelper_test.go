package signer

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/pkg/algid"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

var (
	keysOnce sync.Once
	testRSA  *rsa.PrivateKey
	testEC   *ecdsa.PrivateKey
	testDSA  *dsa.PrivateKey //nolint:staticcheck
	keysErr  error
)

// testKeys generates one key per algorithm for the whole package.
func testKeys(t *testing.T) (*rsa.PrivateKey, *ecdsa.PrivateKey, *dsa.PrivateKey) { //nolint:staticcheck
	t.Helper()
	keysOnce.Do(func() {
		testRSA, keysErr = rsa.GenerateKey(rand.Reader, 2048)
		if keysErr != nil {
			return
		}
		testEC, keysErr = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if keysErr != nil {
			return
		}
		testDSA, keysErr = generateDSA()
	})
	if keysErr != nil {
		t.Fatalf("failed to generate test keys: %v", keysErr)
	}
	return testRSA, testEC, testDSA
}

func generateDSA() (*dsa.PrivateKey, error) { //nolint:staticcheck
	priv := &dsa.PrivateKey{} //nolint:staticcheck
	if err := dsa.GenerateParameters(&priv.Parameters, rand.Reader, dsa.L1024N160); err != nil { //nolint:staticcheck
		return nil, err
	}
	if err := dsa.GenerateKey(priv, rand.Reader); err != nil { //nolint:staticcheck
		return nil, err
	}
	return priv, nil
}

// publicInfo returns the key info of pub.
func publicInfo(t *testing.T, pub crypto.PublicKey) *keystore.PublicKeyInfo {
	t.Helper()
	info, err := keystore.NewPublicKeyInfo(pub)
	if err != nil {
		t.Fatalf("NewPublicKeyInfo() error = %v", err)
	}
	return info
}

// selfSigned returns a throwaway certificate for an RSA or ECDSA key.
func selfSigned(t *testing.T, priv crypto.Signer) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "msgsigner test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

// requestSigner stores priv in a fresh software provider and returns a
// Signer built from a key request for it.
func requestSigner(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey, hash algid.HashAlgorithm, opts *Options) *Signer {
	t.Helper()
	reg := keystore.NewRegistry()
	if err := reg.Software().StoreKey("test-key", priv); err != nil {
		t.Fatalf("StoreKey() error = %v", err)
	}
	if opts == nil {
		opts = &Options{}
	}
	opts.Registry = reg

	req := &keystore.KeyRequest{
		ProviderName:  keystore.DefaultProviderName,
		ContainerName: "test-key",
		PublicKey:     publicInfo(t, pub),
	}
	s, err := NewFromKeyRequest(req, hash, opts)
	if err != nil {
		t.Fatalf("NewFromKeyRequest() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// publicSigner returns a verification-only Signer for pub.
func publicSigner(t *testing.T, pub crypto.PublicKey, hash algid.HashAlgorithm, opts *Options) *Signer {
	t.Helper()
	s, err := NewFromPublicKey(publicInfo(t, pub), hash, opts)
	if err != nil {
		t.Fatalf("NewFromPublicKey() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// withAudit installs a memory audit writer for the duration of the test.
func withAudit(t *testing.T) *audit.MemoryWriter {
	t.Helper()
	mem := audit.NewMemoryWriter()
	audit.Init(mem)
	t.Cleanup(func() { audit.Init(nil) })
	return mem
}

// flipped returns a copy of b with one bit of byte i inverted.
func flipped(b []byte, i int) []byte {
	out := append([]byte(nil), b...)
	out[i] ^= 0x01
	return out
}

func ecdsaKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}
