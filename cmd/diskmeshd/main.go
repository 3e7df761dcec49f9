// Command diskmeshd runs the diskmesh topology engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"diskmesh/internal/config"
	"diskmesh/internal/logging"
)

var (
	configPath string
	logLevel   string
	dbPath     string

	rootCmd = &cobra.Command{
		Use:   "diskmeshd",
		Short: "Persisted storage network topology engine",
		Long: `diskmeshd tracks servers, drive bays, terminals and cables placed in a
sparse 3D world, groups them into storage networks and persists drive
slot contents across teardown and rebuild.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search $DISKMESH_CONFIG, ./diskmesh.yaml, XDG, /etc)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")

	rootCmd.AddCommand(serveCmd, inspectCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies the persistent flag overrides on top of the config
// file. The returned path is empty when defaults are in use.
func loadConfig() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if configPath != "" {
		cfg, path, err = config.LoadFromPath(configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}
