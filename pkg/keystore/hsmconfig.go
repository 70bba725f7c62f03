package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/msgsigner/pkg/algid"
)

// HSMConfig describes a PKCS#11 token registered as a key storage provider
// for signing keys.
//
//	type: pkcs11
//	name: release-hsm
//	pkcs11:
//	  lib: /usr/lib/softhsm/libsofthsm2.so
//	  token: signing
//	  pin_env: HSM_PIN
//	algorithms: [ecdsa, rsa]
//	keys:
//	  - name: release
//	    label: RELEASE_2026
//	  - name: firmware
//	    id: 0a1b2c
type HSMConfig struct {
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`

	// Algorithms limits the key algorithms the token may sign with.
	// Empty allows RSA, DSA and ECDSA.
	Algorithms []string `yaml:"algorithms"`

	// Keys maps signer key names to token objects. Names not listed here
	// are looked up as CKA_LABEL, or as CKA_ID when written "id:<hex>".
	Keys []TokenKey `yaml:"keys"`

	allowed []algid.KeyAlgorithm
}

// PKCS11Settings selects the module, token and PIN.
type PKCS11Settings struct {
	Lib         string `yaml:"lib"`
	Token       string `yaml:"token"`
	TokenSerial string `yaml:"token_serial"`
	Slot        *uint  `yaml:"slot"`

	// PinEnv names the environment variable holding the user PIN
	PinEnv string `yaml:"pin_env"`
}

// TokenKey binds a signer key name to a private key object on the token.
type TokenKey struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	ID    string `yaml:"id"` // hex CKA_ID
}

// LoadHSMConfig reads and validates a token provider file.
func LoadHSMConfig(path string) (*HSMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HSM config file: %w", err)
	}
	return ParseHSMConfig(data)
}

// ParseHSMConfig parses and validates a token provider definition.
func ParseHSMConfig(data []byte) (*HSMConfig, error) {
	var cfg HSMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse HSM config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid HSM config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the token selection, the PIN source, the algorithm list
// and the key table.
func (c *HSMConfig) Validate() error {
	if c.Type != "pkcs11" {
		return fmt.Errorf("unsupported HSM type: %s (only 'pkcs11' is supported)", c.Type)
	}
	p := c.PKCS11
	if p.Lib == "" {
		return errors.New("pkcs11.lib is required")
	}
	if p.Token == "" && p.TokenSerial == "" && p.Slot == nil {
		return errors.New("at least one of pkcs11.token, pkcs11.token_serial, or pkcs11.slot is required")
	}
	if p.PinEnv == "" {
		return errors.New("pkcs11.pin_env is required (PIN must be provided via environment variable)")
	}

	allowed := make([]algid.KeyAlgorithm, 0, len(c.Algorithms))
	for _, s := range c.Algorithms {
		alg, err := parseKeyAlgorithm(s)
		if err != nil {
			return err
		}
		allowed = append(allowed, alg)
	}

	seen := make(map[string]bool, len(c.Keys))
	for i, k := range c.Keys {
		switch {
		case k.Name == "":
			return fmt.Errorf("keys[%d]: name is required", i)
		case seen[k.Name]:
			return fmt.Errorf("keys[%d]: duplicate key name %q", i, k.Name)
		case (k.Label == "") == (k.ID == ""):
			return fmt.Errorf("key %q: exactly one of label or id is required", k.Name)
		}
		if k.ID != "" {
			if _, err := hex.DecodeString(k.ID); err != nil {
				return fmt.Errorf("key %q: id is not hex: %w", k.Name, err)
			}
		}
		seen[k.Name] = true
	}

	c.allowed = allowed
	return nil
}

func parseKeyAlgorithm(s string) (algid.KeyAlgorithm, error) {
	for _, alg := range []algid.KeyAlgorithm{algid.KeyRSA, algid.KeyDSA, algid.KeyECDSA} {
		if strings.EqualFold(s, alg.String()) {
			return alg, nil
		}
	}
	return algid.KeyUnknown, fmt.Errorf("unsupported signing key algorithm %q", s)
}

// ProviderName returns the registry name of the provider, defaulting to the
// token label.
func (c *HSMConfig) ProviderName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PKCS11.Token != "":
		return c.PKCS11.Token
	case c.PKCS11.TokenSerial != "":
		return c.PKCS11.TokenSerial
	default:
		return "pkcs11"
	}
}

// ObjectRef returns the token lookup string for a signer key name.
func (c *HSMConfig) ObjectRef(name string) string {
	for _, k := range c.Keys {
		if k.Name != name {
			continue
		}
		if k.ID != "" {
			return "id:" + k.ID
		}
		return k.Label
	}
	return name
}

// AllowsAlgorithm reports whether keys of alg may sign on this token.
// Validate must have run.
func (c *HSMConfig) AllowsAlgorithm(alg algid.KeyAlgorithm) bool {
	return len(c.allowed) == 0 || slices.Contains(c.allowed, alg)
}

// GetPIN reads the user PIN from the configured environment variable.
func (c *HSMConfig) GetPIN() (string, error) {
	pin := os.Getenv(c.PKCS11.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PKCS11.PinEnv)
	}
	return pin, nil
}

// ResolvePassphrase resolves a key store passphrase that may be "env:VAR_NAME".
func ResolvePassphrase(passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	if name, ok := strings.CutPrefix(passphrase, "env:"); ok && name != "" {
		return []byte(os.Getenv(name))
	}
	return []byte(passphrase)
}
