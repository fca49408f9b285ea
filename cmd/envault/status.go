package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state without decrypting",
	Long: `Report whether a vault file exists, its metadata, whether a key is
discoverable, and the most recent audit entries. No key is required and
nothing is decrypted.`,
	Args: cobra.NoArgs,
	RunE: executeStatus,
}

func executeStatus(cmd *cobra.Command, args []string) error {
	status, err := orchestrator.Inspect(workDir)
	if err != nil {
		return err
	}

	if !status.EnvelopeFound {
		fmt.Printf("%s No vault at %s\n", failureMark(), color.YellowString(status.VaultPath))
	} else {
		m := status.Metadata
		fmt.Printf("%s Vault %s\n", successMark(), color.YellowString(status.VaultPath))
		fmt.Printf("  variables: %d\n", m.Variables)
		fmt.Printf("  created:   %s", m.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if m.CreatedBy != "" {
			fmt.Printf(" by %s", m.CreatedBy)
		}
		fmt.Println()
		fmt.Printf("  updated:   %s\n", m.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if status.KeySource != "" {
		fmt.Printf("%s Key available from %s\n", successMark(), status.KeySource)
	} else {
		fmt.Printf("%s No key found; run %s\n", failureMark(), color.YellowString("envault keygen"))
	}

	if len(status.RecentEntries) > 0 {
		fmt.Println("\nRecent activity:")
		for _, e := range status.RecentEntries {
			line := fmt.Sprintf("  #%-4d %-7s %s", e.Sequence, e.Operation, e.Timestamp)
			if e.Actor != "" {
				line += "  " + e.Actor
			}
			fmt.Println(line)
		}
	}
	return nil
}
