package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"composerkeys-mcp-server/internal/config"
	mcpserver "composerkeys-mcp-server/internal/mcp"
	"composerkeys-mcp-server/internal/shortcut"
	"composerkeys-mcp-server/internal/toggle"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath   string
	workspaceDir string
	noWorkspace  bool
	verbose      bool

	// serve flags
	ssePort int

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "composerkeys",
	Short: "Keyboard-driven composer feature toggles over MCP",
	Long: `composerkeys attaches to a Chrome tab running the chat composer and
toggles its features (Think longer, Web search, Deep research, Create image)
from keyboard chords or MCP tool calls.

Every run is journaled into an embedded Mangle program that derives
diagnostics such as badge_missing and keyboard_rescued.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		loaded, wsDir, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
			ExplicitDir: workspaceDir,
			Disable:     noWorkspace,
		})
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		if cmd.Name() == "serve" && ssePort != 0 {
			cfg.MCP.SSEPort = ssePort
		}

		stdio := cmd.Name() == "serve" && cfg.MCP.SSEPort == 0
		logger, err = buildLogger(cfg.Logging, stdio, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if wsDir != "" {
			logger.Debug("workspace config loaded", zap.String("dir", wsDir))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server (stdio, or SSE with --sse-port)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		if cfg.Browser.AutoStart {
			if err := rt.attach(ctx); err != nil {
				return err
			}
		} else {
			logger.Info("browser auto-start disabled; attaching on the first command")
		}

		server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
			Commands:  rt,
			Shortcuts: rt,
			Engine:    rt.engine,
			Sessions:  rt.sessions,
		}, logger.Named("mcp"))
		if err != nil {
			return fmt.Errorf("failed to initialize MCP server: %w", err)
		}

		var startErr error
		if cfg.MCP.SSEPort > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
		} else {
			logger.Info("starting MCP stdio server")
			startErr = server.Start(ctx)
		}
		if startErr != nil && !errors.Is(startErr, context.Canceled) {
			return fmt.Errorf("server exited with error: %w", startErr)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Attach to the composer tab and serve keyboard chords until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.attach(ctx); err != nil {
			return err
		}
		bindings := rt.Bindings()
		for _, f := range toggle.Features {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", f, shortcut.Format(bindings[f]))
		}
		<-ctx.Done()
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <feature|command>",
	Short: "Toggle one feature once and print the result",
	Long: `Toggle one composer feature and print the JSON response.

Accepts a feature (think_longer, web_search, deep_research, create_image),
a host command name (run_web_search, toggle_think_longer, ...) or
toggleThinkLonger.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, ok := parseCommand(args[0])
		if !ok {
			return fmt.Errorf("unknown feature or command %q", args[0])
		}
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.Handle(ctx, m)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return nil
	},
}

var shortcutsCmd = &cobra.Command{
	Use:   "shortcuts",
	Short: "Show or change the chord bound to each feature",
}

var shortcutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the chord bound to each feature",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		bindings := rt.Bindings()
		fmt.Fprintf(cmd.OutOrStdout(), "platform: %s\n", rt.Platform())
		for _, f := range toggle.Features {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", f, shortcut.Format(bindings[f]))
		}
		return nil
	},
}

var shortcutsSetCmd = &cobra.Command{
	Use:   "set <feature> <chord>",
	Short: `Bind a chord such as "Alt+Shift+T" to a feature`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, ok := toggle.ParseFeature(args[0])
		if !ok {
			return fmt.Errorf("unknown feature %q", args[0])
		}
		b, err := shortcut.Parse(args[1])
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.Set(f, b); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", f, shortcut.Format(shortcut.Normalize(b)))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .composerkeys workspace in dir (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		if err := config.InitWorkspace(root); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s\n", root)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file layered over the workspace config")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "Workspace root (default: discovered from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Ignore .composerkeys workspace config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	serveCmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve MCP over SSE on this port instead of stdio")

	shortcutsCmd.AddCommand(shortcutsListCmd, shortcutsSetCmd)
	rootCmd.AddCommand(serveCmd, watchCmd, runCmd, shortcutsCmd, initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
