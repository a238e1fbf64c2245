package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/db"
	"github.com/neboloop/browserd/internal/defaults"
)

// DoctorCmd creates the doctor command for health checks
func DoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check engine availability and diagnose issues",
		Long: `Run diagnostics on your browserd installation.

Checks:
  - Data directory and config file
  - Journal database
  - Engine availability for the configured driver
  - Whether a server is listening

Examples:
  browserd doctor
  browserd doctor --config ./browserd.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context())
		},
	}
	return cmd
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor(ctx context.Context) error {
	fmt.Println("\033[1mbrowserd doctor\033[0m")
	fmt.Println("===============")
	fmt.Println()

	var results []checkResult
	results = append(results, checkConfig()...)
	results = append(results, checkJournal()...)
	results = append(results, checkEngines(ctx)...)
	results = append(results, checkServer()...)

	okCount, warnCount, errorCount := 0, 0, 0
	for _, r := range results {
		switch r.status {
		case "ok":
			fmt.Printf("\033[32m✓\033[0m %s: %s\n", r.name, r.message)
			okCount++
		case "warn":
			fmt.Printf("\033[33m⚠\033[0m %s: %s\n", r.name, r.message)
			warnCount++
		case "error":
			fmt.Printf("\033[31m✗\033[0m %s: %s\n", r.name, r.message)
			errorCount++
		}
	}

	// Summary
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  \033[32m%d passed\033[0m", okCount)
	if warnCount > 0 {
		fmt.Printf("  \033[33m%d warnings\033[0m", warnCount)
	}
	if errorCount > 0 {
		fmt.Printf("  \033[31m%d errors\033[0m", errorCount)
	}
	fmt.Println()

	if errorCount > 0 {
		return fmt.Errorf("%d checks failed", errorCount)
	}
	return nil
}

func checkConfig() []checkResult {
	var results []checkResult

	dir, err := defaults.DataDir()
	switch {
	case err != nil:
		results = append(results, checkResult{"Data Directory", "error", err.Error()})
	default:
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			results = append(results, checkResult{"Data Directory", "warn", dir + " not found. It is created by 'browserd serve'."})
		} else {
			results = append(results, checkResult{"Data Directory", "ok", dir})
		}
	}

	path, _ := configPath()
	if path == "" {
		results = append(results, checkResult{"Config File", "ok", "etc/browserd.yaml (embedded)"})
	} else {
		results = append(results, checkResult{"Config File", "ok", path})
	}

	if err := ServerConfig.Validate(); err != nil {
		results = append(results, checkResult{"Config", "error", err.Error()})
	}
	return results
}

func checkJournal() []checkResult {
	if !ServerConfig.Journal.Enabled {
		return []checkResult{{"Journal", "ok", "disabled"}}
	}
	path, err := journalPath()
	if err != nil {
		return []checkResult{{"Journal", "error", err.Error()}}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []checkResult{{"Journal", "ok", path + " (created on first serve)"}}
	}
	store, err := db.OpenReadOnly(path)
	if err != nil {
		return []checkResult{{"Journal", "error", err.Error()}}
	}
	defer store.Close()
	if _, err := store.ListCommands(context.Background(), db.ListCommandsParams{Limit: 1}); err != nil {
		return []checkResult{{"Journal", "error", fmt.Sprintf("%s: %v", path, err)}}
	}
	return []checkResult{{"Journal", "ok", path}}
}

func checkEngines(ctx context.Context) []checkResult {
	resolved, err := browser.ResolveConfig(ServerConfig.Browser)
	if err != nil {
		return []checkResult{{"Browser Config", "error", err.Error()}}
	}
	driver, err := browser.NewDriver(resolved)
	if err != nil {
		return []checkResult{{"Driver", "error", err.Error()}}
	}
	defer driver.Close()

	results := []checkResult{{"Driver", "ok", driver.Name()}}
	for _, e := range browser.Engines {
		name := "Engine " + string(e)
		if !resolved.Engines[e] {
			results = append(results, checkResult{name, "ok", "disabled in config"})
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, resolved.LaunchTimeout)
		err := driver.Check(checkCtx, e)
		cancel()
		switch {
		case err == nil:
			results = append(results, checkResult{name, "ok", "available"})
		case e == resolved.DefaultEngine:
			results = append(results, checkResult{name, "error", fmt.Sprintf("%v (run 'browserd install %s')", err, e)})
		default:
			results = append(results, checkResult{name, "warn", err.Error()})
		}
	}
	return results
}

func checkServer() []checkResult {
	s := ServerConfig.Server
	url := "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort)) + "/health"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return []checkResult{{"Server", "warn", "not running at " + url}}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return []checkResult{{"Server", "error", fmt.Sprintf("%s returned %d", url, resp.StatusCode)}}
	}
	return []checkResult{{"Server", "ok", url}}
}
