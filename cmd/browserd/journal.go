package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/db"
	"github.com/neboloop/browserd/internal/defaults"
)

func journalPath() (string, error) {
	if p := ServerConfig.Journal.Path; p != "" {
		return p, nil
	}
	return defaults.JournalPath()
}

// JournalCmd prints recent journal rows straight from the database file.
func JournalCmd() *cobra.Command {
	var (
		limit   int
		all     bool
		errLogs bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recently dispatched commands",
		Long: `Read the command journal. Without --all only the session given by
--session is shown. Use --errors for recovered panics and warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := journalPath()
			if err != nil {
				return err
			}
			store, err := db.OpenReadOnly(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if errLogs {
				return printErrorLogs(cmd.Context(), store, limit)
			}

			params := db.ListCommandsParams{Limit: limit}
			if !all {
				params.SessionID = sessionKey
			}
			entries, err := store.ListCommands(cmd.Context(), params)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No commands found.")
				return nil
			}
			// Oldest first reads like a transcript.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				mark, detail := "\033[32m✓\033[0m", e.Log
				if !e.OK {
					mark, detail = "\033[31m✗\033[0m", e.Kind+": "+e.Error
				}
				fmt.Printf("%s %s [%s] %s %s (%dms)\n",
					mark, e.CreatedAt.Format("2006-01-02 15:04:05"), e.SessionID, e.Command, detail, e.DurationMs)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", db.DefaultListLimit, "maximum rows")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show every session")
	cmd.Flags().BoolVar(&errLogs, "errors", false, "show the error log instead")
	return cmd
}

func printErrorLogs(ctx context.Context, store *db.Store, limit int) error {
	logs, err := store.ListErrorLogs(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(logs)
	}
	if len(logs) == 0 {
		fmt.Println("No errors logged.")
		return nil
	}
	for _, l := range logs {
		fmt.Printf("%s %s [%s] %s\n", l.CreatedAt.Format("2006-01-02 15:04:05"), l.Level, l.Module, l.Message)
	}
	return nil
}
