package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/rpc"
)

var callTimeout = 2 * time.Minute

func dialClient() (*rpc.Client, error) {
	target := addr
	if target == "" {
		s := ServerConfig.Server
		target = net.JoinHostPort(s.Host, strconv.Itoa(s.GRPCPort))
	}
	tok := token
	if tok == "" {
		tok = os.Getenv("BROWSERD_TOKEN")
	}
	opts := []rpc.ClientOption{rpc.WithSession(sessionKey)}
	if tok != "" {
		opts = append(opts, rpc.WithToken(tok))
	}
	return rpc.Dial(target, opts...)
}

// withClient dials the server, runs fn under a timeout and prints the reply.
func withClient(fn func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error)) error {
	c, err := dialClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, callTimeout)
	defer cancelTimeout()

	reply, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printReply(reply)
}

func printReply(reply *rpc.Reply) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Println(reply.Log)
	if verbose && reply.Result != nil {
		r := reply.Result
		fmt.Printf("  browser=%s context=%s page=%s", r.BrowserID, r.ContextID, r.PageID)
		if r.Index != nil {
			fmt.Printf(" index=%d", *r.Index)
		}
		fmt.Printf(" url=%s\n", r.URL)
	}
	return nil
}

func parseOptions(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var opts map[string]any
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("--options must be a JSON object: %w", err)
	}
	return opts, nil
}

// CallCmd sends any command with a raw JSON payload.
func CallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <Command> [payload-json]",
		Short: "Send a command to a running server",
		Long: `Send a command by name with an optional JSON object payload.

Examples:
  browserd call NewPage '{"url":"https://example.com"}'
  browserd call SwitchActivePage '{"index":0}' -s robot`,
		Args: cobra.RangeArgs(1, 2),
		ValidArgs: func() []string {
			names := make([]string, 0, len(dispatch.Commands))
			for _, c := range dispatch.Commands {
				names = append(names, string(c))
			}
			return names
		}(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.Call(ctx, args[0], payload)
			})
		},
	}
	cmd.Flags().DurationVar(&callTimeout, "timeout", callTimeout, "give up after this long")
	return cmd
}

// KeywordCmds returns one subcommand per client keyword.
func KeywordCmds() []*cobra.Command {
	var (
		engine   string
		headless bool
		options  string
	)

	openBrowser := &cobra.Command{
		Use:   "open-browser [url]",
		Short: "Open a browser, optionally navigating a new page to url",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var url string
			if len(args) == 1 {
				url = args[0]
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.OpenBrowser(ctx, url, browser.Engine(engine), headless)
			})
		},
	}
	openBrowser.Flags().StringVarP(&engine, "browser", "b", string(browser.Chromium), "engine: chromium, firefox or webkit")
	openBrowser.Flags().BoolVar(&headless, "headless", true, "run without a visible window")

	closeBrowser := &cobra.Command{
		Use:   "close-browser",
		Short: "Close the session's browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.CloseBrowser(ctx)
			})
		},
	}

	newBrowser := &cobra.Command{
		Use:   "new-browser",
		Short: "Launch a browser with playwright launch options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.NewBrowser(ctx, browser.Engine(engine), opts)
			})
		},
	}
	newBrowser.Flags().StringVarP(&engine, "browser", "b", string(browser.Chromium), "engine: chromium, firefox or webkit")
	newBrowser.Flags().StringVar(&options, "options", "", `launch options as JSON, e.g. '{"headless":false}'`)

	newContext := &cobra.Command{
		Use:   "new-context",
		Short: "Create a browser context with playwright context options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.NewContext(ctx, opts)
			})
		},
	}
	newContext.Flags().StringVar(&options, "options", "", `context options as JSON, e.g. '{"viewport":{"width":800,"height":600}}'`)

	newPage := &cobra.Command{
		Use:   "new-page [url]",
		Short: "Open a page in the current context",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var url string
			if len(args) == 1 {
				url = args[0]
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.NewPage(ctx, url)
			})
		},
	}

	switchPage := &cobra.Command{
		Use:   "switch-page <index>",
		Short: "Activate the page at a 0-based index in the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.SwitchActivePage(ctx, index)
			})
		},
	}

	autoActivate := &cobra.Command{
		Use:   "auto-activate",
		Short: "Toggle activating newly opened pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) (*rpc.Reply, error) {
				return c.AutoActivatePages(ctx)
			})
		},
	}

	return []*cobra.Command{openBrowser, closeBrowser, newBrowser, newContext, newPage, switchPage, autoActivate}
}
