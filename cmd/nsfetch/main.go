package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsgo/nsapi/pkg/client"
	"github.com/nsgo/nsapi/pkg/config"
)

// rootFlags holds flag-bound values merged over file and environment config.
var rootFlags = struct {
	configFile  string
	userAgent   string
	apiDelay    time.Duration
	noThrottle  bool
	noCache     bool
	validity    time.Duration
	telemetryDB string
	logLevel    string
	raw         bool
}{}

func main() {
	rootCmd := &cobra.Command{
		Use:   "nsfetch",
		Short: "Query the NationStates API from the command line",
		Long: `nsfetch queries the NationStates API while respecting its rate limits.
Requests are paced by the published cadence floors and identical queries
are served from a short-lived response cache.

A user agent identifying you (for example an email address) is mandatory:
	nsfetch --user-agent you@example.org nation testlandia flag motto`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootFlags.configFile, "config", "c", "", "Config file (TOML)")
	flags.StringVarP(&rootFlags.userAgent, "user-agent", "u", "", "Contact info identifying you to the API (required)")
	flags.DurationVar(&rootFlags.apiDelay, "delay", config.MinAPIDelay, "General request cadence floor")
	flags.BoolVar(&rootFlags.noThrottle, "no-throttle", false, "Disable cadence enforcement (mock endpoints only)")
	flags.BoolVar(&rootFlags.noCache, "no-cache", false, "Disable the response cache")
	flags.DurationVar(&rootFlags.validity, "cache-validity", 30*time.Second, "Cache validity window")
	flags.StringVar(&rootFlags.telemetryDB, "telemetry-db", "", "SQLite file recording dispatch telemetry")
	flags.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&rootFlags.raw, "raw", false, "Print the raw XML response")

	rootCmd.AddCommand(
		createNationCommand(),
		createRegionCommand(),
		createWorldCommand(),
		createTelegramCommand(),
		createStatsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: defaults, then config
// file, then NSAPI_* environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, flagConfig, explicit := configInputs(cmd)
	return config.LoadWithPrecedence(configFile, flagConfig, explicit)
}

// resolveConfig applies the same precedence without validation, for
// subcommands that need a single setting (stats does not require a user
// agent).
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, flagConfig, explicit := configInputs(cmd)
	return config.ResolveWithPrecedence(configFile, flagConfig, explicit)
}

func configInputs(cmd *cobra.Command) (string, *config.Config, map[string]bool) {
	configFile := rootFlags.configFile
	if configFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			configFile = config.FindConfigFile(cwd)
		}
	}

	flagConfig := &config.Config{
		UserAgent:     rootFlags.userAgent,
		APIDelay:      rootFlags.apiDelay,
		Throttle:      !rootFlags.noThrottle,
		CacheEnabled:  !rootFlags.noCache,
		CacheValidity: rootFlags.validity,
		TelemetryDB:   rootFlags.telemetryDB,
		LogLevel:      rootFlags.logLevel,
	}
	explicit := map[string]bool{
		"user_agent":     cmd.Flags().Changed("user-agent"),
		"api_delay":      cmd.Flags().Changed("delay"),
		"throttle":       cmd.Flags().Changed("no-throttle"),
		"cache_enabled":  cmd.Flags().Changed("no-cache"),
		"cache_validity": cmd.Flags().Changed("cache-validity"),
		"telemetry_db":   cmd.Flags().Changed("telemetry-db"),
		"log_level":      cmd.Flags().Changed("log-level"),
	}

	return configFile, flagConfig, explicit
}

// newClient builds a client from the resolved configuration.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.New(cfg)
}
