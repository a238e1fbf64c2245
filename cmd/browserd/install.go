package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/browser"
)

// InstallCmd downloads the playwright driver and browser engines.
func InstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install [engine...]",
		Short: "Install the playwright driver and browser engines",
		Long: `Download the playwright driver and the given engines. With no
arguments every engine enabled in browser.engines is installed.

Examples:
  browserd install
  browserd install chromium firefox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var engines []browser.Engine
			for _, name := range args {
				e, err := browser.ParseEngine(name, "")
				if err != nil {
					return err
				}
				engines = append(engines, e)
			}
			if len(engines) == 0 {
				resolved, err := browser.ResolveConfig(ServerConfig.Browser)
				if err != nil {
					return err
				}
				for _, e := range browser.Engines {
					if resolved.Engines[e] {
						engines = append(engines, e)
					}
				}
			}

			fmt.Printf("Installing %v...\n", engines)
			if err := browser.Install(engines, verbose); err != nil {
				return fmt.Errorf("install: %w", err)
			}
			fmt.Println("\033[32m✓\033[0m Done")
			return nil
		},
	}
}
