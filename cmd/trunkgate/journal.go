package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"trunkgate/internal/config"
	"trunkgate/internal/journal"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the append-only run journal",
	}
	cmd.AddCommand(newJournalShowCmd())
	cmd.AddCommand(newJournalVerifyCmd())
	return cmd
}

func newJournalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			jrn, cfg, err := openJournal(cmd)
			if err != nil {
				return err
			}
			entries := jrn.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "journal is empty")
				return nil
			}
			if cfg.Format == config.FormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			for _, e := range entries {
				line := fmt.Sprintf("%4d  %s  %-16s", e.Index, e.Timestamp, e.Kind)
				if e.RunID != "" {
					line += "  run=" + e.RunID
				}
				for k, v := range e.Fields {
					line += fmt.Sprintf("  %s=%s", k, v)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newJournalVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			jrn, _, err := openJournal(cmd)
			if err != nil {
				return err
			}
			if err := jrn.Verify(); err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal ok (%d entries)\n", len(jrn.Entries()))
			return nil
		},
	}
}

func openJournal(cmd *cobra.Command) (*journal.Journal, config.Config, error) {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return nil, config.Config{}, err
	}
	jrn, err := journal.Open(journalPath(root, cfg))
	if err != nil {
		return nil, config.Config{}, err
	}
	return jrn, cfg, nil
}
