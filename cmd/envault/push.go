package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/envault/envault/pkg/vault"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Encrypt the env files into the vault",
	Long: `Encrypt the project's .env file (overlaid with .env.local) into the vault
file. The key-carrier variable is never included in the ciphertext.

Examples:
  # Encrypt .env into <dir>.vault
  envault push

  # Encrypt with an explicit key
  envault push --key envault_...`,
	Args: cobra.NoArgs,
	RunE: executePush,
}

func executePush(cmd *cobra.Command, args []string) error {
	s, cleanup := startSpinner("Encrypting env files...")
	defer cleanup()

	var receipt *vault.Receipt
	err := promptKey(func(key string) error {
		var err error
		receipt, err = orchestrator.WithKey(key).Push(cmd.Context(), workDir)
		return err
	})
	if err != nil {
		s.FinalMSG = failureMark() + " Push failed"
		return err
	}

	s.FinalMSG = fmt.Sprintf("%s Encrypted %s into %s\n%s key from %s, audit entry #%d",
		successMark(),
		color.YellowString("%d variables", receipt.Variables),
		color.YellowString(receipt.VaultPath),
		arrowMark(), receipt.KeySource, receipt.AuditSequence)
	return nil
}
