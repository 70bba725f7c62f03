package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/cli"
	"github.com/remiblancher/msgsigner/pkg/algid"
)

var algidCmd = &cobra.Command{
	Use:   "algid",
	Short: "Encode and decode signature AlgorithmIdentifiers",
}

var algidDecodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a DER AlgorithmIdentifier",
	Long: `Decode a DER signature AlgorithmIdentifier and print the key
algorithm, hash, padding and salt length it describes.

Examples:
  msgsign algid decode msg.algid
  echo 300d06092a864886f70d01010b0500 | msgsign algid decode - --encoding hex`,
	Args: cobra.ExactArgs(1),
	RunE: runAlgidDecode,
}

var algidEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a signature AlgorithmIdentifier",
	Long: `Encode the DER AlgorithmIdentifier for a key algorithm, hash and padding.

Examples:
  msgsign algid encode --key rsa --hash sha256 --padding pss --encoding hex
  msgsign algid encode --key ecdsa --hash sha384 --alternate --encoding base64
  msgsign algid encode --hash sha1 --null-signed --encoding hex`,
	RunE: runAlgidEncode,
}

var (
	algidEncoding   string
	algidKey        string
	algidHash       string
	algidPadding    string
	algidSaltLength int
	algidAlternate  bool
	algidNullSigned bool
)

func init() {
	algidCmd.AddCommand(algidDecodeCmd)
	algidCmd.AddCommand(algidEncodeCmd)

	algidCmd.PersistentFlags().StringVar(&algidEncoding, "encoding", cli.EncodingHex, "Encoding: raw, base64 or hex")

	flags := algidEncodeCmd.Flags()
	flags.StringVar(&algidKey, "key", "rsa", "Key algorithm: rsa, dsa or ecdsa")
	flags.StringVar(&algidHash, "hash", string(algid.DefaultHash), "Hash algorithm")
	flags.StringVar(&algidPadding, "padding", "pkcs1", "RSA padding: pkcs1 or pss")
	flags.IntVar(&algidSaltLength, "salt-length", -1, "PSS salt length (default: hash size)")
	flags.BoolVar(&algidAlternate, "alternate", false, "Use ecdsa-with-Specified for ECDSA")
	flags.BoolVar(&algidNullSigned, "null-signed", false, "Encode a bare hash identifier")
}

func runAlgidDecode(cmd *cobra.Command, args []string) error {
	data, err := cli.ReadInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	der, err := cli.Decode(data, algidEncoding)
	if err != nil {
		return err
	}
	p, err := algid.Decode(der)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if p.NullSigned {
		fmt.Fprintf(out, "Type:        %s\n", cli.FormatStatus("null-signed"))
	} else {
		fmt.Fprintf(out, "Key:         %s\n", p.Key)
	}
	fmt.Fprintf(out, "Hash:        %s\n", p.Hash)
	if p.Key == algid.KeyRSA {
		fmt.Fprintf(out, "Padding:     %s\n", p.Padding)
		if p.Padding == algid.PaddingPSS {
			fmt.Fprintf(out, "Salt length: %d\n", p.SaltLength)
		}
	}
	return nil
}

func runAlgidEncode(cmd *cobra.Command, args []string) error {
	hash, err := algid.ParseHashAlgorithm(algidHash)
	if err != nil {
		return err
	}
	p := algid.Params{Hash: hash, NullSigned: algidNullSigned}

	if !algidNullSigned {
		if p.Key, err = parseKeyAlgorithm(algidKey); err != nil {
			return err
		}
		if p.Key == algid.KeyRSA {
			if p.Padding, err = algid.ParsePadding(algidPadding); err != nil {
				return err
			}
			if p.Padding == algid.PaddingPSS {
				p.SaltLength = hash.Size()
				if algidSaltLength >= 0 {
					p.SaltLength = algidSaltLength
				}
			}
		}
	}

	der, err := algid.Marshal(p, algidAlternate)
	if err != nil {
		return err
	}
	out, err := cli.Encode(der, algidEncoding)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
