package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/envault/envault/internal/config"
	"github.com/envault/envault/pkg/crypto"
	"github.com/envault/envault/pkg/keyring"
	"github.com/envault/envault/pkg/vault"
)

// Persistent flags
var (
	flagVerbose bool
	flagKey     string
	flagVault   string
	flagActor   string
	flagDir     string
)

var (
	orchestrator *vault.Orchestrator
	workDir      string
	actorName    string
	logger       zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "envault",
	Short: "envault keeps a team's env files encrypted in version control",
	Long: `envault encrypts a project's .env files into a single vault file that is
safe to commit. Teammates holding the shared key pull the plaintext back
out; everyone else sees only ciphertext.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and wires the
	// orchestrator from config and flags.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workDir = flagDir
		if workDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
			workDir = wd
		}

		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}
		if flagVault != "" {
			cfg.VaultFile = flagVault
		}
		if flagActor != "" {
			cfg.Actor = flagActor
		}
		actorName = cfg.Actor

		logger = zerolog.Nop()
		if flagVerbose {
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(zerolog.DebugLevel).
				With().Timestamp().Logger()
		}

		orchestrator = vault.New(crypto.NewEngine(), vault.Options{
			VaultFile:    cfg.VaultFile,
			EnvFile:      cfg.EnvFile,
			LocalEnvFile: cfg.LocalEnvFile,
			Actor:        cfg.Actor,
			KeyOverride:  flagKey,
			Logger:       logger,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagKey, "key", "", "Vault key token (overrides discovery)")
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "Vault file path")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "Actor recorded in metadata and audit entries")
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", "", "Project directory (default: current directory)")

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(auditCmd)
}

// startSpinner shows a progress spinner unless verbose logging is on. The
// cleanup function stops it and prints any final message.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")

	if !flagVerbose {
		s.Start()
	}
	cleanup := func() {
		// Clear FinalMSG before Stop so it is printed exactly once, with a
		// newline, whether or not the spinner ever started.
		finalMsg := s.FinalMSG
		s.FinalMSG = ""
		s.Stop()
		if finalMsg != "" {
			fmt.Println(finalMsg)
		}
	}
	return s, cleanup
}

// promptKey retries fn with a key read from the terminal when discovery
// found nothing and stdin is interactive.
func promptKey(fn func(key string) error) error {
	err := fn(flagKey)
	if !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return err
	}

	fmt.Fprint(os.Stderr, "Vault key: ")
	raw, readErr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if readErr != nil {
		if readErr == io.EOF {
			return err
		}
		return fmt.Errorf("failed to read key: %w", readErr)
	}

	candidate := string(raw)
	if !keyring.Validate(candidate) {
		return fmt.Errorf("not a valid vault key token (want %s... format)", keyring.TokenPrefix)
	}
	return fn(candidate)
}

func successMark() string { return color.GreenString("✓") }
func failureMark() string { return color.RedString("✗") }
func arrowMark() string   { return color.CyanString("→") }
