package keystore

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
		testDSA, keysErr = generateDSA(rand.Reader, dsa.L1024N160) //nolint:staticcheck
	})
	if keysErr != nil {
		t.Fatalf("failed to generate test keys: %v", keysErr)
	}
	return testRSA, testEC, testDSA
}

// mustPublicKeyInfo returns the key info of pub.
func mustPublicKeyInfo(t *testing.T, pub crypto.PublicKey) *PublicKeyInfo {
	t.Helper()
	info, err := NewPublicKeyInfo(pub)
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

// withAudit installs a memory audit writer for the duration of the test.
func withAudit(t *testing.T) *audit.MemoryWriter {
	t.Helper()
	mem := audit.NewMemoryWriter()
	audit.Init(mem)
	t.Cleanup(func() { audit.Init(nil) })
	return mem
}

// digestOf hashes data with h.
func digestOf(h algid.HashAlgorithm, data string) []byte {
	d := h.New()
	d.Write([]byte(data))
	return d.Sum(nil)
}
