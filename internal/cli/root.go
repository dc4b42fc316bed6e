package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/config"
	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/logging"
)

var (
	configPath string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "familiar",
	Short:         "A household assistant that knows who is talking",
	Long:          "Familiar tells its users apart by how they talk, remembers what they say, and learns their habits. Single Go binary backed by SQLite.",
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.familiar/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(associateCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(importCmd)
}

// session is an engine opened by a CLI command, with the logger it writes to.
type session struct {
	cfg config.Config
	log *zap.Logger
	eng *engine.Engine
}

func (s *session) Close() {
	if err := s.eng.Close(); err != nil {
		fmt.Printf("warning: close: %v\n", err)
	}
	_ = s.log.Sync()
}

// loadConfig applies the --config and --db flags. Unless quiet is false or
// --verbose is set, logging is lowered to warnings so command output stays
// readable.
func loadConfig(quiet bool) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if quiet && !verbose {
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}

// openSession is a helper that opens the engine for CLI commands.
func openSession(quiet bool) (*session, error) {
	cfg, err := loadConfig(quiet)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return &session{cfg: cfg, log: logger, eng: eng}, nil
}

// withSession runs fn against a freshly opened engine and closes it after.
func withSession(fn func(*engine.Engine) error) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.eng)
}
