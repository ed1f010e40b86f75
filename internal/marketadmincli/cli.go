// Package marketadmincli wires the marketadmin command tree: setup, run and version.
package marketadmincli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phillip-england/marketadmin/internal/config"
	"github.com/phillip-england/marketadmin/internal/console"
	"github.com/phillip-england/marketadmin/internal/devapi"
	"github.com/phillip-england/marketadmin/internal/logging"
	"github.com/phillip-england/marketadmin/internal/security"
)

// Version is overridden at build time with -ldflags "-X ...marketadmincli.Version=v1.2.3".
var Version = "dev"

var runTargets = []string{"console", "devapi", "all"}

type options struct {
	envFile   string
	logLevel  string
	logFormat string
}

func Execute(args []string) error {
	root := NewRootCommand(os.Stdout)
	root.SetArgs(args)
	return root.Execute()
}

func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "marketadmin",
		Short:         "Admin console for the marketplace platform",
		Long:          "marketadmin serves the marketplace admin console and, for local work, an in-memory development API.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(firstSet(opts.logLevel, os.Getenv("LOG_LEVEL"), "info"), firstSet(opts.logFormat, os.Getenv("LOG_FORMAT"), "text"))
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "path to .env file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides LOG_FORMAT)")

	root.AddCommand(newSetupCommand(opts), newRunCommand(opts), newVersionCommand())
	return root
}

func newSetupCommand(opts *options) *cobra.Command {
	var (
		adminEmail    string
		adminPassword string
		apiBaseURL    string
		dataDir       string
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file for the console and development API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminPassword == "" {
				return errors.New("--admin-password is required")
			}
			if _, err := security.HashPassword(adminPassword); err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}

			values := map[string]string{
				"CONSOLE_ADDR":          ":3000",
				"API_BASE_URL":          apiBaseURL,
				"API_NAMESPACE":         "admin",
				"DATA_DIR":              dataDir,
				"DEVAPI_ADDR":           ":8080",
				"DEVAPI_ADMIN_EMAIL":    adminEmail,
				"DEVAPI_ADMIN_PASSWORD": adminPassword,
				"LOG_LEVEL":             "info",
				"LOG_FORMAT":            "text",
			}
			if err := config.WriteDotEnv(opts.envFile, values, force); err != nil {
				return err
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("create data directory %s: %w", dataDir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.envFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@example.com", "development API admin email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "development API admin password (min 12 chars)")
	cmd.Flags().StringVar(&apiBaseURL, "api-base-url", "http://localhost:8080", "marketplace API base URL")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for persisted console sessions")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing env file")
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "run console|devapi|all",
		Short:     "Run the console, the development API, or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: runTargets,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			if opts.logLevel == "" && opts.logFormat == "" {
				logging.Init(cfg.LogLevel, cfg.LogFormat)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			switch args[0] {
			case "console":
				return runConsole(ctx, cfg)
			case "devapi":
				return runDevAPI(ctx, cfg)
			default:
				return runAll(ctx, cfg)
			}
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the marketadmin version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marketadmin version %s\n", Version)
		},
	}
}

func runConsole(ctx context.Context, cfg *config.Config) error {
	err := console.Run(ctx, console.ConfigFrom(cfg), console.WithLogger(slog.Default()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDevAPI(ctx context.Context, cfg *config.Config) error {
	err := devapi.Run(ctx, devapi.ConfigFrom(cfg), devapi.WithLogger(slog.Default()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runAll starts the development API first so the console's first calls find it listening.
func runAll(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- runDevAPI(ctx, cfg) }()
	go func() {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		errCh <- runConsole(ctx, cfg)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
