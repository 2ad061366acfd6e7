package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/config"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

var version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func main() {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "datasync",
		Short: "datasync - data source sync orchestration",
		Long: `datasync registers external data sources, syncs them through a bounded
worker pool, maps their fields with per-source rules and keeps an
append-only log of every run.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			if flags.envFile != "" {
				_ = godotenv.Load(flags.envFile)
			} else {
				_ = godotenv.Load()
			}
		},
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to the service configuration YAML file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("datasync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPreviewCmd())
	root.AddCommand(newSyncCmd(flags))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the service configuration and builds the logger.
func (f *globalFlags) load() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}
