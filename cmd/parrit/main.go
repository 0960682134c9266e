package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "parrit",
	Short:         "Parrit lead-qualification chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		setupLogging(cfg.LogLevel)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
