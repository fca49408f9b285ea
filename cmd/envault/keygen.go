package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keygenPrint bool

func init() {
	keygenCmd.Flags().BoolVar(&keygenPrint, "print", false, "Print the key token to stdout")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a vault key and store it in the local env file",
	Long: `Generate a fresh vault key and write it as the key-carrier variable into
.env.local, preserving other variables there. The key is only printed when
--print is given or stdout is not a terminal, so it can be piped to a
secrets manager without landing in scrollback by accident.`,
	Args: cobra.NoArgs,
	RunE: executeKeygen,
}

func executeKeygen(cmd *cobra.Command, args []string) error {
	key, receipt, err := orchestrator.Keygen(workDir)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if keygenPrint || !interactive {
		fmt.Println(key.String())
	}
	if interactive {
		fmt.Fprintf(os.Stderr, "%s Key written to %s\n", successMark(), color.YellowString(receipt.PlaintextPath))
		fmt.Fprintf(os.Stderr, "%s Share it with your team over a secure channel, never in version control\n", arrowMark())
	}
	return nil
}
