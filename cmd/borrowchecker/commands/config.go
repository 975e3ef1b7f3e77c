// Package commands implements the borrowchecker subcommands.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// loadConfig loads configPath when given, otherwise borrowchecker.yaml in
// dir, falling back to the defaults with the store at dir.
func loadConfig(dir, configPath string) (*config.Config, string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("directory does not exist: %s", dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", configPath)
		}
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromDir(absDir)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, absDir, nil
}

// newLogger writes to stderr so command output stays clean on stdout.
func newLogger(cfg *config.Config) *logging.Logger {
	log := logging.New(os.Stderr, logging.Format(cfg.Log.Format), cfg.Log.Level)
	logging.SetDefault(log)
	return log
}

// flagValue returns the value following args[i], advancing i.
func flagValue(args []string, i *int) (string, error) {
	name := args[*i]
	if *i+1 >= len(args) {
		return "", fmt.Errorf("flag %s requires a value", name)
	}
	*i++
	return args[*i], nil
}
