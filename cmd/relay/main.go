package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

var RootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Realtime command and event relay for dashboards",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", GetEnv("RELAY_CONFIG", ""), "YAML config file [env: RELAY_CONFIG]")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetEnv returns the environment variable key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newLogger builds the root logger: JSON by default, console output when
// log.pretty is set.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
