package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/envault/envault/pkg/audit"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"36h", 36 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"d", 0, true},
		{"", 0, true},
		{"xyz", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDuration(%q): expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDuration(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAuditRotateRecordsConfiguredActor(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENVAULT_ACTOR", "")
	if err := os.Unsetenv("ENVAULT_ACTOR"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".envault.yaml"), []byte("actor: alice\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ledgerPath := filepath.Join(dir, filepath.Base(dir)+".vault.audit")
	if _, err := audit.NewLedger(ledgerPath).Append(audit.OpPush, "bob", "digest"); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"--dir", dir, "audit", "rotate", "--older-than", "0d"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	entries, err := audit.NewLedger(ledgerPath).Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[0].Operation != audit.OpRotate {
		t.Fatalf("expected a rotation entry at the head of the chain, got %+v", entries)
	}
	// The YAML-configured actor, not the unset --actor flag, must land on
	// the rotation entry.
	if entries[0].Actor != "alice" {
		t.Errorf("rotation actor = %q, want %q", entries[0].Actor, "alice")
	}
}
