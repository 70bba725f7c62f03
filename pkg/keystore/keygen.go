package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"strings"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// KeySpec names a key type and size that can be generated.
type KeySpec string

const (
	KeyRSA2048   KeySpec = "rsa-2048"
	KeyRSA3072   KeySpec = "rsa-3072"
	KeyRSA4096   KeySpec = "rsa-4096"
	KeyECDSAP256 KeySpec = "ecdsa-p256"
	KeyECDSAP384 KeySpec = "ecdsa-p384"
	KeyECDSAP521 KeySpec = "ecdsa-p521"
	KeyDSA1024   KeySpec = "dsa-1024"
	KeyDSA2048   KeySpec = "dsa-2048"
)

// AllKeySpecs lists the supported key specs.
var AllKeySpecs = []KeySpec{
	KeyRSA2048, KeyRSA3072, KeyRSA4096,
	KeyECDSAP256, KeyECDSAP384, KeyECDSAP521,
	KeyDSA1024, KeyDSA2048,
}

// ParseKeySpec parses a key spec name (case-insensitive).
func ParseKeySpec(s string) (KeySpec, error) {
	spec := KeySpec(strings.ToLower(strings.TrimSpace(s)))
	if !spec.IsValid() {
		return "", fmt.Errorf("unknown key spec: %s", s)
	}
	return spec, nil
}

// IsValid returns true if the key spec is supported.
func (s KeySpec) IsValid() bool {
	for _, v := range AllKeySpecs {
		if s == v {
			return true
		}
	}
	return false
}

// Algorithm returns the key algorithm of the key spec.
func (s KeySpec) Algorithm() algid.KeyAlgorithm {
	switch {
	case strings.HasPrefix(string(s), "rsa-"):
		return algid.KeyRSA
	case strings.HasPrefix(string(s), "ecdsa-"):
		return algid.KeyECDSA
	case strings.HasPrefix(string(s), "dsa-"):
		return algid.KeyDSA
	default:
		return algid.KeyUnknown
	}
}

// GenerateKeyPair generates a private key for spec using random.
// A nil random uses crypto/rand.
func GenerateKeyPair(random io.Reader, spec KeySpec) (crypto.PrivateKey, error) {
	if random == nil {
		random = rand.Reader
	}

	var priv crypto.PrivateKey
	var err error

	switch spec {
	case KeyRSA2048:
		priv, err = rsa.GenerateKey(random, 2048)
	case KeyRSA3072:
		priv, err = rsa.GenerateKey(random, 3072)
	case KeyRSA4096:
		priv, err = rsa.GenerateKey(random, 4096)

	case KeyECDSAP256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), random)
	case KeyECDSAP384:
		priv, err = ecdsa.GenerateKey(elliptic.P384(), random)
	case KeyECDSAP521:
		priv, err = ecdsa.GenerateKey(elliptic.P521(), random)

	case KeyDSA1024:
		priv, err = generateDSA(random, dsa.L1024N160) //nolint:staticcheck
	case KeyDSA2048:
		priv, err = generateDSA(random, dsa.L2048N256) //nolint:staticcheck

	default:
		return nil, fmt.Errorf("key generation not implemented for: %s", spec)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", spec, err)
	}
	return priv, nil
}

func generateDSA(random io.Reader, sizes dsa.ParameterSizes) (*dsa.PrivateKey, error) { //nolint:staticcheck
	priv := &dsa.PrivateKey{} //nolint:staticcheck
	if err := dsa.GenerateParameters(&priv.Parameters, random, sizes); err != nil { //nolint:staticcheck
		return nil, err
	}
	if err := dsa.GenerateKey(priv, random); err != nil { //nolint:staticcheck
		return nil, err
	}
	return priv, nil
}
