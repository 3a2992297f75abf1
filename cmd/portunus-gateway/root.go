package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/config"
)

type rootOptions struct {
	configFile string
	debug      bool
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "portunus-gateway",
		Short: "Door access gateway: MQTT credential checks with a SQLite audit trail.",
		Long: `portunus-gateway subscribes to credential-check requests from door readers,
decides each one against the configured authorization list, records every
decision in an append-only audit log and publishes the verdict back to the
requesting reader.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", os.Getenv("PORTUNUS_CONFIG"),
		"Path to YAML config file (env PORTUNUS_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Log as JSON")

	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

// load resolves configuration and builds the logger.  Flags win over the
// file and environment for the logging switches.
func (o *rootOptions) load(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		newLogger(stderr, false, false).Error("load config",
			slog.String("file", o.configFile),
			slog.String("error", err.Error()),
		)
		return config.Config{}, nil, err
	}
	cfg.Debug = cfg.Debug || o.debug
	cfg.LogJSON = cfg.LogJSON || o.json

	return cfg, newLogger(stderr, cfg.Debug, cfg.LogJSON), nil
}

func newLogger(w io.Writer, debug, asJSON bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if asJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}
