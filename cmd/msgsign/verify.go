package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/cli"
	"github.com/remiblancher/msgsigner/pkg/keystore"
	"github.com/remiblancher/msgsigner/pkg/signer"
)

// errInvalidSignature makes the command exit non-zero after reporting.
var errInvalidSignature = errors.New("signature verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a detached signature or a COSE_Sign1 message",
	Long: `Verify a signature over a message with a public key taken from a
certificate, certification request or PUBLIC KEY PEM file.

The signature algorithm comes from the DER AlgorithmIdentifier given with
--algid. Bare hash identifiers (null-signed data) are only accepted when the
profile sets accept_null_signed.

Examples:
  msgsign verify --pub signer.crt --in msg.txt --sig msg.sig --algid msg.algid
  msgsign verify --pub ec.pub --cose --sig payload.cose --hash sha256`,
	RunE: runVerify,
}

var verifyBlobCmd = &cobra.Command{
	Use:   "verify-blob <file>",
	Short: "Verify a signed X.509 structure",
	Long: `Verify the signature of a certificate, certification request or CRL
(PEM or DER) against a public key.

Examples:
  msgsign verify-blob request.csr --pub request.csr
  msgsign verify-blob leaf.crt --pub issuer.crt`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyBlob,
}

var (
	verifyPub      string
	verifyIn       string
	verifySig      string
	verifyAlgID    string
	verifyEncoding string
	verifyHash     string
	verifyPadding  string
	verifyCOSE     bool
	verifyPayload  string

	verifyBlobPub string
)

func init() {
	flags := verifyCmd.Flags()
	flags.StringVar(&verifyPub, "pub", "", "Public key, certificate or CSR (PEM, required)")
	flags.StringVarP(&verifyIn, "in", "i", "", "Signed message file")
	flags.StringVarP(&verifySig, "sig", "s", "", "Signature or COSE_Sign1 file (required)")
	flags.StringVar(&verifyAlgID, "algid", "", "Signature AlgorithmIdentifier file")
	flags.StringVar(&verifyEncoding, "encoding", cli.EncodingRaw, "Input encoding: raw, base64 or hex")
	flags.StringVar(&verifyHash, "hash", "", "Hash algorithm for COSE (default: profile)")
	flags.StringVar(&verifyPadding, "padding", "", "RSA padding for COSE: pkcs1 or pss (default: profile)")
	flags.BoolVar(&verifyCOSE, "cose", false, "Verify a COSE_Sign1 message")
	flags.StringVar(&verifyPayload, "payload-out", "", "Write the COSE payload here after a successful verification")
	_ = verifyCmd.MarkFlagRequired("pub")
	_ = verifyCmd.MarkFlagRequired("sig")

	verifyBlobCmd.Flags().StringVar(&verifyBlobPub, "pub", "", "Public key, certificate or CSR (PEM, required)")
	_ = verifyBlobCmd.MarkFlagRequired("pub")
}

func runVerify(cmd *cobra.Command, args []string) error {
	pub, err := cli.LoadPublicKeyInfo(verifyPub)
	if err != nil {
		return err
	}
	sig, err := readEncoded(cmd, verifySig)
	if err != nil {
		return err
	}
	reg, err := profile.Registry()
	if err != nil {
		return err
	}
	opts := profile.Options(reg, logger)

	var ok bool
	if verifyCOSE {
		ok, err = verifyCOSEMessage(cmd, pub, sig, opts)
	} else {
		ok, err = verifyDetached(cmd, pub, sig, opts)
	}
	if err != nil {
		return err
	}
	return report(cmd, ok)
}

func verifyDetached(cmd *cobra.Command, pub *keystore.PublicKeyInfo, sig []byte, opts *signer.Options) (bool, error) {
	if verifyIn == "" || verifyAlgID == "" {
		return false, errors.New("--in and --algid are required for detached signatures")
	}
	msg, err := cli.ReadInput(verifyIn, cmd.InOrStdin())
	if err != nil {
		return false, err
	}
	algID, err := readEncoded(cmd, verifyAlgID)
	if err != nil {
		return false, err
	}
	return signer.VerifyDetached(msg, sig, algID, pub, opts)
}

func verifyCOSEMessage(cmd *cobra.Command, pub *keystore.PublicKeyInfo, msg []byte, opts *signer.Options) (bool, error) {
	hash, err := resolveHash(verifyHash)
	if err != nil {
		return false, err
	}
	s, err := signer.NewFromPublicKey(pub, hash, opts)
	if err != nil {
		return false, err
	}
	defer closeSigner(s)

	if err := configure(s, verifyPadding, -1); err != nil {
		return false, err
	}
	payload, ok, err := s.VerifyCOSE(msg)
	if err != nil || !ok {
		return ok, err
	}
	if verifyPayload != "" {
		if err := cli.WriteOutput(verifyPayload, payload, cmd.OutOrStdout()); err != nil {
			return false, err
		}
	}
	return true, nil
}

func runVerifyBlob(cmd *cobra.Command, args []string) error {
	pub, err := cli.LoadPublicKeyInfo(verifyBlobPub)
	if err != nil {
		return err
	}
	data, err := cli.ReadInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	reg, err := profile.Registry()
	if err != nil {
		return err
	}

	ok, err := signer.VerifySignedBlob(derFromPEMOrRaw(data), pub, profile.Options(reg, logger))
	if err != nil {
		return err
	}
	return report(cmd, ok)
}

func readEncoded(cmd *cobra.Command, path string) ([]byte, error) {
	data, err := cli.ReadInput(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	return cli.Decode(data, verifyEncoding)
}

func report(cmd *cobra.Command, ok bool) error {
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Signature: %s\n", cli.FormatStatus("invalid"))
		return errInvalidSignature
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signature: %s\n", cli.FormatStatus("valid"))
	return nil
}
