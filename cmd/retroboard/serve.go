package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/retroboard/retroboard/internal/config"
	"github.com/retroboard/retroboard/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		staticDir  string
		logJSON    bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the board server",
		Long: `Start the board server.

Configuration is read from retroboard.json in the working directory
when present; flags override the file. The board starts empty and
lives in memory for the lifetime of the process.

Examples:
  retroboard serve
  retroboard serve --addr=:9000
  retroboard serve --config=/etc/retroboard.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, addr, staticDir, logJSON, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Path to the configuration file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	cmd.Flags().StringVarP(&staticDir, "static", "s", "", "Static asset directory (overrides config)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runServe(configPath, addr, staticDir string, logJSON, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Address = addr
	}
	if staticDir != "" {
		cfg.StaticDir = staticDir
	}

	logger := newLogger(logJSON, verbose)
	logger.Info("starting retroboard",
		"version", version,
		"addr", cfg.Address,
		"columns", cfg.Columns)

	return server.New(cfg, logger).Run()
}

func newLogger(logJSON, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
