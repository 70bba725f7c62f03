package cli

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// Encodings for signature and identifier input/output.
const (
	EncodingRaw    = "raw"
	EncodingBase64 = "base64"
	EncodingHex    = "hex"
)

// LoadCertFromPath loads a certificate from a PEM file.
func LoadCertFromPath(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert, nil
}

// LoadPublicKeyInfo reads a public key from a PEM certificate, certification
// request or PUBLIC KEY block.
func LoadPublicKeyInfo(path string) (*keystore.PublicKeyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return keystore.PublicKeyInfoFromCertificate(cert)
	case "CERTIFICATE REQUEST":
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certification request: %w", err)
		}
		return keystore.ParsePublicKeyInfo(csr.RawSubjectPublicKeyInfo)
	case "PUBLIC KEY":
		return keystore.ParsePublicKeyInfo(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
}

// WritePublicKeyPEM writes info as a PUBLIC KEY block.
func WritePublicKeyPEM(w io.Writer, info *keystore.PublicKeyInfo) error {
	spki, err := info.SPKI()
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: spki})
}

// ReadInput reads a file, or standard input when path is "-".
func ReadInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteOutput writes data to a file, or to stdout when path is "" or "-".
func WriteOutput(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Encode renders data in the named encoding. Text encodings end with a newline.
func Encode(data []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingRaw:
		return data, nil
	case EncodingBase64:
		return []byte(base64.StdEncoding.EncodeToString(data) + "\n"), nil
	case EncodingHex:
		return []byte(hex.EncodeToString(data) + "\n"), nil
	default:
		return nil, fmt.Errorf("unknown encoding: %s", encoding)
	}
}

// Decode reverses Encode. Surrounding whitespace is ignored for text encodings.
func Decode(data []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingRaw:
		return data, nil
	case EncodingBase64:
		out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 input: %w", err)
		}
		return out, nil
	case EncodingHex:
		out, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid hex input: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding: %s", encoding)
	}
}
