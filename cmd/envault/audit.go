package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/envault/envault/pkg/audit"
)

var (
	auditLimit           int
	auditRotateOlderThan string
)

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditRotateCmd)

	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Show at most this many entries")
	auditRotateCmd.Flags().StringVar(&auditRotateOlderThan, "older-than", "", "Archive entries older than this duration (e.g. 30d, 1y)")
	_ = auditRotateCmd.MarkFlagRequired("older-than")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the vault's audit ledger",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := orchestrator.Ledger(workDir)
		if err != nil {
			return err
		}
		entries, err := ledger.Recent(auditLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("#%-4d %-7s %s", e.Sequence, e.Operation, e.Timestamp)
			if e.Actor != "" {
				line += "  " + e.Actor
			}
			fmt.Println(line)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain end to end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := orchestrator.Ledger(workDir)
		if err != nil {
			return err
		}
		entries, err := ledger.Entries()
		if err != nil {
			return err
		}
		if err := audit.Verify(entries); err != nil {
			var tamper *audit.TamperError
			if errors.As(err, &tamper) {
				fmt.Printf("%s Chain broken at entry #%d\n", failureMark(), tamper.Sequence)
			}
			return err
		}
		fmt.Printf("%s Chain intact, %s verified\n", successMark(),
			color.YellowString("%d entries", len(entries)))
		return nil
	},
}

var auditRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Archive old entries and restart the chain",
	Long: `Move entries older than the given age into a read-only archive file and
restart the chain. The new chain opens with a rotation entry anchored to
the archive, so verification still spans the full history.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := parseDuration(auditRotateOlderThan)
		if err != nil {
			return err
		}
		ledger, err := orchestrator.Ledger(workDir)
		if err != nil {
			return err
		}
		archive, n, err := ledger.Rotate(time.Now().Add(-age), actorName)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("Nothing to rotate")
			return nil
		}
		fmt.Printf("%s Archived %s to %s\n", successMark(),
			color.YellowString("%d entries", n), color.YellowString(archive))
		return nil
	},
}

// parseDuration accepts time.ParseDuration syntax plus day/week/year
// suffixes like "30d" and "1y".
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	var value int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &value); err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
