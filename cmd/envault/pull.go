package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/envault/envault/pkg/vault"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Decrypt the vault back into the env file",
	Long: `Decrypt the vault file and restore the plaintext .env file. A key-carrier
variable already present in .env survives the restore.

Examples:
  # Restore .env from <dir>.vault
  envault pull

  # Restore with an explicit key
  envault pull --key envault_...`,
	Args: cobra.NoArgs,
	RunE: executePull,
}

func executePull(cmd *cobra.Command, args []string) error {
	s, cleanup := startSpinner("Decrypting vault...")
	defer cleanup()

	var receipt *vault.Receipt
	err := promptKey(func(key string) error {
		var err error
		receipt, err = orchestrator.WithKey(key).Pull(cmd.Context(), workDir)
		return err
	})
	if err != nil {
		s.FinalMSG = failureMark() + " Pull failed"
		return err
	}

	s.FinalMSG = fmt.Sprintf("%s Restored %s into %s\n%s key from %s, audit entry #%d",
		successMark(),
		color.YellowString("%d variables", receipt.Variables),
		color.YellowString(receipt.PlaintextPath),
		arrowMark(), receipt.KeySource, receipt.AuditSequence)
	return nil
}
