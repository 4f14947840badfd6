package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/idgate/internal/config"
	"github.com/andresmejia3/idgate/internal/store"
	"github.com/andresmejia3/idgate/internal/utils"
)

// Options holds the flags shared by the capture and verify commands.
type Options struct {
	InputPath string
	OutputDir string
	Realtime  bool
	Manual    bool
	Recognize bool
	Timeout   string
	FrontPath string
	BackPath  string
	SessionID string
}

// dbAnnotation marks how a command uses the database:
// "required" always connects, "optional" connects only when one is configured.
const dbAnnotation = "idgate/db"

var (
	// DB is the global database connection shared by subcommands. Nil when
	// the command runs without persistence.
	DB *store.Store
	// Cfg is the loaded tuning file.
	Cfg *config.Config
	// Logger is the structured logger for long-running components.
	Logger *slog.Logger

	dbURL     string
	cfgPath   string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "idgate",
	Short:         "ID document capture-quality gate and verification backend",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		cfg, path, exists, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		Cfg = cfg

		Logger, err = utils.NewLogger(os.Stderr, logLevel, logFormat)
		if err != nil {
			return err
		}
		if exists {
			Logger.Debug("config loaded", "path", path)
		}

		mode := cmd.Annotations[dbAnnotation]
		if mode == "" || (mode == "optional" && !databaseConfigured()) {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), resolveDatabaseURL())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The main context may already be cancelled (Ctrl+C); closing still has to happen.
			DB.Close(context.Background())
		}
	},
}

func databaseConfigured() bool {
	return dbURL != "" || os.Getenv("POSTGRES_HOST") != ""
}

// resolveDatabaseURL prefers --db, then POSTGRES_* variables, then a local default.
func resolveDatabaseURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/idgate"
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError("command failed", err, nil)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/idgate)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to the TOML tuning file (default: ./idgate.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}
