package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/defaults"
)

// InitCmd seeds the data directory, or restores its files with --reset.
func InitCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and default config",
		Long: `Create the data directory with a default browserd.yaml. Existing files
are kept unless --reset is given. The journal is never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := defaults.EnsureDataDir()
			if err != nil {
				return err
			}
			if !reset {
				fmt.Printf("Data directory: %s\n", dir)
				return nil
			}
			written, err := defaults.Reset(dir)
			if err != nil {
				return err
			}
			for _, name := range written {
				fmt.Printf("  restored %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "overwrite config files with defaults")
	return cmd
}
