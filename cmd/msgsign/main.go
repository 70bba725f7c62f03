// Command msgsign signs and verifies messages with keys held by software,
// legacy container or PKCS#11 providers.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/audit"
	"github.com/remiblancher/msgsigner/internal/cli"
	"github.com/remiblancher/msgsigner/internal/config"
	"github.com/remiblancher/msgsigner/pkg/keystore"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	auditLogPath string
	profilePath  string
	keyStoreDir  string
)

// State shared by the subcommands, set up in PersistentPreRunE.
var (
	logger  = slog.Default()
	profile = config.Default()
)

func main() {
	// Setup signal handler for clean PKCS#11 shutdown
	setupSignalHandler()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = keystore.CloseAllPools()
		os.Exit(1)
	}

	_ = keystore.CloseAllPools()
}

// setupSignalHandler closes PKCS#11 sessions on SIGINT/SIGTERM.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		_ = keystore.CloseAllPools()
		os.Exit(0)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "msgsign",
	Short: "Sign and verify messages with RSA, DSA and ECDSA keys",
	Long: `msgsign produces and checks signatures together with the X.509
AlgorithmIdentifier that describes them.

Keys are resolved from the software key store, from legacy key containers
declared in the signer profile, or from a PKCS#11 token.

Examples:
  # Generate a key in the software store
  msgsign key gen --spec rsa-2048 --name signing-key --key-store ./keys --pub-out signing.pub

  # Sign with RSASSA-PSS and keep the AlgorithmIdentifier
  msgsign sign --key signing-key --key-store ./keys --padding pss --in msg.txt --out msg.sig --algid-out msg.algid

  # Verify
  msgsign verify --pub signing.pub --in msg.txt --sig msg.sig --algid msg.algid`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logger, err = cli.LoggerFromCommand(cmd); err != nil {
			return err
		}

		if profilePath == "" {
			profilePath = os.Getenv("MSGSIGN_PROFILE")
		}
		if profilePath != "" {
			if profile, err = config.Load(profilePath); err != nil {
				return err
			}
		} else {
			profile = config.Default()
		}
		if keyStoreDir != "" {
			profile.KeyStore = keyStoreDir
		}

		if auditLogPath == "" {
			auditLogPath = os.Getenv("MSGSIGN_AUDIT_LOG")
		}
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&auditLogPath, "audit-log", "", "Path to audit log file (or set MSGSIGN_AUDIT_LOG)")
	flags.StringVar(&profilePath, "profile", "", "Signer profile YAML (or set MSGSIGN_PROFILE)")
	flags.StringVar(&keyStoreDir, "key-store", "", "Software key store directory (overrides the profile)")
	cli.RegisterLoggingFlags(flags)

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verifyBlobCmd)
	rootCmd.AddCommand(algidCmd)
	rootCmd.AddCommand(auditCmd)
}
