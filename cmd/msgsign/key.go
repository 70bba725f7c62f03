package main

import (
	"bytes"
	"crypto"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/internal/cli"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Key management commands",
	Long:  `Commands for generating and listing signing keys.`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a signing key pair",
	Long: `Generate a key pair in the software key store or in a legacy container
provider declared in the signer profile.

Supported specs:
  rsa-2048, rsa-3072, rsa-4096
  ecdsa-p256, ecdsa-p384, ecdsa-p521
  dsa-1024, dsa-2048

Examples:
  # Software key store
  msgsign key gen --spec ecdsa-p384 --name ec-key --key-store ./keys --pub-out ec.pub

  # Non-exportable legacy container
  msgsign key gen --spec rsa-2048 --name legacy-key --provider "Legacy RSA" --profile signer.yaml`,
	RunE: runKeyGen,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys in the software key store",
	RunE:  runKeyList,
}

var (
	keyGenSpec       string
	keyGenName       string
	keyGenProvider   string
	keyGenExportable bool
	keyGenPubOut     string
)

func init() {
	keyCmd.AddCommand(keyGenCmd)
	keyCmd.AddCommand(keyListCmd)

	flags := keyGenCmd.Flags()
	flags.StringVarP(&keyGenSpec, "spec", "s", string(keystore.KeyECDSAP256), "Key type and size")
	flags.StringVarP(&keyGenName, "name", "n", "", "Key or container name (required)")
	flags.StringVar(&keyGenProvider, "provider", "", "Legacy provider name (default: software key store)")
	flags.BoolVar(&keyGenExportable, "exportable", false, "Allow a legacy key to be moved to the software store")
	flags.StringVar(&keyGenPubOut, "pub-out", "", "Write the public key PEM here (default: stdout)")
	_ = keyGenCmd.MarkFlagRequired("name")
}

func runKeyGen(cmd *cobra.Command, args []string) error {
	spec, err := keystore.ParseKeySpec(keyGenSpec)
	if err != nil {
		return err
	}
	reg, err := profile.Registry()
	if err != nil {
		return err
	}

	provider := reg.Software().Name()
	if keyGenProvider != "" && keyGenProvider != provider {
		provider = keyGenProvider
	}

	obj := audit.Object{Type: "key", Provider: provider, Name: keyGenName}
	actx := audit.Context{KeyAlgorithm: spec.Algorithm().String()}

	pub, genErr := generate(reg, provider, spec)
	if provider != reg.Software().Name() {
		obj.Type = "container"
		actx.Legacy = true
	}
	if err := audit.LogKeyGenerated(obj, actx, genErr); err != nil {
		return err
	}
	if genErr != nil {
		return genErr
	}

	info, err := keystore.NewPublicKeyInfo(pub)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := cli.WritePublicKeyPEM(&buf, info); err != nil {
		return err
	}
	if err := cli.WriteOutput(keyGenPubOut, buf.Bytes(), cmd.OutOrStdout()); err != nil {
		return err
	}

	logger.Info("key generated", "spec", string(spec), "provider", provider, "name", keyGenName)
	if keyGenPubOut != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s key %q in %s\n", spec, keyGenName, provider)
	}
	return nil
}

func generate(reg *keystore.Registry, provider string, spec keystore.KeySpec) (crypto.PublicKey, error) {
	if provider == reg.Software().Name() {
		return reg.Software().GenerateKey(keyGenName, spec)
	}
	csp, err := reg.CSP(provider)
	if err != nil {
		return nil, err
	}
	scsp, ok := csp.(*keystore.SoftwareCSP)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support key generation", provider)
	}
	return scsp.GenerateKey(keyGenName, spec, keyGenExportable)
}

func runKeyList(cmd *cobra.Command, args []string) error {
	reg, err := profile.Registry()
	if err != nil {
		return err
	}
	names, err := reg.Software().ListKeys()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No keys found.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
