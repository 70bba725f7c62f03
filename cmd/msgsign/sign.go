package main

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/cli"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a message",
	Long: `Sign a message and write the signature, optionally with the DER
AlgorithmIdentifier describing it.

DSA and ECDSA signatures are DER SEQUENCE { r, s }. With --cose the output is
a tagged COSE_Sign1 message embedding the payload instead.

Examples:
  # Key from the software store
  msgsign sign --key signing-key --key-store ./keys --in msg.txt --out msg.sig --algid-out msg.algid

  # Key bound to a certificate in a legacy container
  msgsign sign --cert signer.crt --provider "Legacy RSA" --container c1 --profile signer.yaml --in msg.txt

  # COSE_Sign1
  msgsign sign --key ec-key --key-store ./keys --cose --in payload.json --out payload.cose`,
	RunE: runSign,
}

var (
	signIn         string
	signOut        string
	signAlgIDOut   string
	signEncoding   string
	signHash       string
	signPadding    string
	signSaltLength int
	signCOSE       bool
	signSource     keySource
)

func init() {
	flags := signCmd.Flags()
	flags.StringVarP(&signIn, "in", "i", "-", "Message file (- for stdin)")
	flags.StringVarP(&signOut, "out", "o", "", "Signature output file (default: stdout)")
	flags.StringVar(&signAlgIDOut, "algid-out", "", "Write the signature AlgorithmIdentifier here")
	flags.StringVar(&signEncoding, "encoding", cli.EncodingRaw, "Output encoding: raw, base64 or hex")
	flags.StringVar(&signHash, "hash", "", "Hash algorithm (default: profile, then SHA256)")
	flags.StringVar(&signPadding, "padding", "", "RSA padding: pkcs1 or pss (default: profile)")
	flags.IntVar(&signSaltLength, "salt-length", -1, "PSS salt length (default: hash size)")
	flags.BoolVar(&signCOSE, "cose", false, "Produce a COSE_Sign1 message")
	addKeySourceFlags(signCmd, &signSource)
}

func addKeySourceFlags(cmd *cobra.Command, src *keySource) {
	flags := cmd.Flags()
	flags.StringVar(&src.certPath, "cert", "", "Certificate whose private key signs (PEM)")
	flags.StringVar(&src.provider, "provider", "", "Provider name (default: software key store)")
	flags.StringVarP(&src.keyName, "key", "k", "", "Key name in a modern provider")
	flags.StringVar(&src.container, "container", "", "Container name in a legacy provider")
	flags.Uint32Var(&src.providerType, "provider-type", 0, "Legacy provider type (1, 3, 13 or 24)")
}

func runSign(cmd *cobra.Command, args []string) error {
	msg, err := cli.ReadInput(signIn, cmd.InOrStdin())
	if err != nil {
		return err
	}
	hash, err := resolveHash(signHash)
	if err != nil {
		return err
	}
	reg, err := profile.Registry()
	if err != nil {
		return err
	}

	s, err := newSigner(reg, signSource, hash)
	if err != nil {
		return err
	}
	defer closeSigner(s)

	if err := configure(s, signPadding, signSaltLength); err != nil {
		return err
	}

	var sig []byte
	if signCOSE {
		sig, err = s.SignCOSE(msg)
	} else {
		sig, err = s.SignData(msg)
	}
	if err != nil {
		return err
	}

	out, err := cli.Encode(sig, signEncoding)
	if err != nil {
		return err
	}
	if err := cli.WriteOutput(signOut, out, cmd.OutOrStdout()); err != nil {
		return err
	}

	if signAlgIDOut != "" {
		if err := writeAlgorithmIdentifier(signAlgIDOut, s.SignatureAlgorithm()); err != nil {
			return err
		}
	}

	logger.Info("message signed",
		"key_algorithm", s.KeyAlgorithm().String(),
		"hash", s.Hash().String(),
		"padding", s.Padding().String(),
		"legacy", s.Legacy(),
		"cose", signCOSE)
	return nil
}

func writeAlgorithmIdentifier(path string, ai *pkix.AlgorithmIdentifier) error {
	if ai == nil {
		return fmt.Errorf("no signature algorithm available")
	}
	der, err := asn1.Marshal(*ai)
	if err != nil {
		return fmt.Errorf("failed to encode algorithm identifier: %w", err)
	}
	out, err := cli.Encode(der, signEncoding)
	if err != nil {
		return err
	}
	return cli.WriteOutput(path, out, nil)
}
