package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/remiblancher/msgsigner/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Signing log commands",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <log>",
	Short: "Check the hash chain of a signing log",
	Long: `Check that every record of a signing log is chained to the one before
it and summarize the key and signature activity it holds.

Examples:
  msgsign audit verify /var/log/msgsign/audit.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	tally, err := audit.VerifyChain(args[0])
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Records:    %d\n", tally.Records)
	fmt.Fprintf(out, "Key events: %d\n", tally.KeyEvents)
	fmt.Fprintf(out, "Signatures: %d\n", tally.Signs)
	fmt.Fprintf(out, "Verifies:   %d (%d rejected)\n", tally.Verifies, tally.Rejected)
	fmt.Fprintf(out, "Failures:   %d\n", tally.Failures)
	for _, key := range slices.Sorted(maps.Keys(tally.SignsByKey)) {
		fmt.Fprintf(out, "  %s: %d signature(s)\n", key, tally.SignsByKey[key])
	}
	if err != nil {
		return fmt.Errorf("signing log %s: %w", args[0], err)
	}
	fmt.Fprintln(out, "Chain OK")
	return nil
}
