package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/config"
	"github.com/roach88/rxvault/internal/pharmacy"
	"github.com/roach88/rxvault/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	EnvFile    string

	// Lookup reads environment overrides. Nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rxvault CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rxvault",
		Short: "rxvault - offline-first pharmacy records",
		Long: `Pharmacy inventory, prescriptions and tag-based dispensing on a local
SQLite store that keeps working offline and syncs with a mirror when one
is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.DefaultPath+" when present)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(NewMedicineCommand(opts))
	cmd.AddCommand(NewPrescriptionCommand(opts))
	cmd.AddCommand(NewPatientCommand(opts))
	cmd.AddCommand(NewEmployeeCommand(opts))
	cmd.AddCommand(NewTagCommand(opts))
	cmd.AddCommand(NewDispenseCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewMirrorCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig resolves the effective configuration: dotenv, file, then
// environment, with --db taking precedence over all of them.
func (o *RootOptions) loadConfig() (config.Config, error) {
	lookup := o.Lookup
	if lookup == nil {
		if err := config.LoadDotEnv(o.EnvFile); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
		lookup = os.LookupEnv
	}
	cfg, err := config.Load(o.ConfigPath, lookup)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// newLogger builds the process logger from the log settings. --verbose
// forces debug level.
func newLogger(cfg config.Log, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// session is an opened store with the service over it, for one command.
type session struct {
	cfg     config.Config
	store   *store.Store
	service *pharmacy.Service
	logger  *slog.Logger
	out     *OutputFormatter
}

// open loads the config, opens the store and wires the service.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	svc := pharmacy.New(st,
		pharmacy.WithDefaultThresholds(cfg.Inventory),
		pharmacy.WithQuantityRule(cfg.Dispense.QuantityRule),
		pharmacy.WithLogger(logger),
	)
	return &session{
		cfg:     cfg,
		store:   st,
		service: svc,
		logger:  logger,
		out:     o.formatter(cmd),
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
