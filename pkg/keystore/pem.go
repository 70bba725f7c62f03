package keystore

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is a supported legacy key type
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// PEM block types for private keys.
const (
	pemTypePKCS8 = "PRIVATE KEY"
	pemTypeEC    = "EC PRIVATE KEY"
	pemTypeRSA   = "RSA PRIVATE KEY"
	pemTypeDSA   = "DSA PRIVATE KEY"

	// headerExportable marks legacy containers whose key may be translated.
	headerExportable = "Exportable"
)

// EncodePrivateKeyPEM encodes priv as PKCS#8 (RSA, ECDSA) or as the OpenSSL
// "DSA PRIVATE KEY" structure. A non-empty passphrase encrypts the block.
func EncodePrivateKeyPEM(priv crypto.PrivateKey, passphrase []byte, headers map[string]string) ([]byte, error) {
	var block *pem.Block

	switch k := priv.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		der, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal private key: %w", err)
		}
		block = &pem.Block{Type: pemTypePKCS8, Bytes: der}

	case *dsa.PrivateKey:
		der, err := marshalDSAPrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal DSA key: %w", err)
		}
		block = &pem.Block{Type: pemTypeDSA, Bytes: der}

	default:
		return nil, fmt.Errorf("unsupported private key type: %T", priv)
	}

	if len(passphrase) > 0 {
		var err error
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck // Deprecated but still used
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}
	}

	if len(headers) > 0 {
		if block.Headers == nil {
			block.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			block.Headers[k] = v
		}
	}

	return pem.EncodeToMemory(block), nil
}

// ParsePrivateKeyPEM decodes the first PEM block of data.
func ParsePrivateKeyPEM(data, passphrase []byte) (crypto.PrivateKey, map[string]string, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, fmt.Errorf("no PEM block found")
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	var priv crypto.PrivateKey
	var err error
	switch block.Type {
	case pemTypePKCS8:
		priv, err = x509.ParsePKCS8PrivateKey(keyBytes)
	case pemTypeEC:
		priv, err = x509.ParseECPrivateKey(keyBytes)
	case pemTypeRSA:
		priv, err = x509.ParsePKCS1PrivateKey(keyBytes)
	case pemTypeDSA:
		priv, err = parseDSAPrivateKey(keyBytes)
	default:
		return nil, nil, fmt.Errorf("unknown PEM type: %s", block.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", block.Type, err)
	}
	if _, err := publicOf(priv); err != nil {
		return nil, nil, err
	}

	return priv, block.Headers, nil
}

// SavePrivateKey writes priv to path with 0600 permissions.
func SavePrivateKey(path string, priv crypto.PrivateKey, passphrase []byte, headers map[string]string) error {
	data, err := EncodePrivateKeyPEM(priv, passphrase, headers)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a key written by SavePrivateKey.
func LoadPrivateKey(path string, passphrase []byte) (crypto.PrivateKey, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read key file: %w", err)
	}
	priv, headers, err := ParsePrivateKeyPEM(data, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return priv, headers, nil
}

// marshalDSAPrivateKey encodes
//
//	DSAPrivateKey ::= SEQUENCE { version INTEGER, p, q, g, y, x INTEGER }
func marshalDSAPrivateKey(k *dsa.PrivateKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		for _, n := range []*big.Int{k.P, k.Q, k.G, k.Y, k.X} {
			b.AddASN1BigInt(n)
		}
	})
	return b.Bytes()
}

func parseDSAPrivateKey(der []byte) (*dsa.PrivateKey, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	var version int64
	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(&version) || version != 0 {
		return nil, fmt.Errorf("malformed DSA private key")
	}

	k := &dsa.PrivateKey{}
	for _, n := range []**big.Int{&k.P, &k.Q, &k.G, &k.Y, &k.X} {
		*n = new(big.Int)
		if !seq.ReadASN1Integer(*n) {
			return nil, fmt.Errorf("malformed DSA private key")
		}
	}
	if !seq.Empty() {
		return nil, fmt.Errorf("trailing data in DSA private key")
	}
	if k.P.Sign() <= 0 || k.Q.Sign() <= 0 || k.G.Sign() <= 0 || k.X.Sign() <= 0 {
		return nil, fmt.Errorf("invalid DSA private key parameters")
	}
	return k, nil
}
