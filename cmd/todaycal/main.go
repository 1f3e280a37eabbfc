package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"todaycal/internal/cache"
	"todaycal/internal/config"
	"todaycal/internal/ics"
	appLog "todaycal/internal/log"
)

const version = "0.1.0"

// globalFlags holds persistent CLI flag values.
type globalFlags struct {
	configPath string
	refresh    bool
	logLevel   string
}

// app bundles what every subcommand needs once config is loaded.
type app struct {
	cfg   *config.Config
	store *cache.Store
	agg   *ics.Aggregator
	force bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "todaycal",
	Short:         "Show what is on today from one or more ICS feeds",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "/etc/todaycal/config.yaml", "Path to config file")
	pf.BoolVarP(&flags.refresh, "refresh", "r", false, "Ignore a fresh cache and fetch all sources")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	rootCmd.AddCommand(todayCmd, refreshCmd, clearCacheCmd, exportCmd, serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		appLog.Error("todaycal failed", err)
		if errors.Is(err, ics.ErrNoSnapshot) {
			fmt.Fprintln(os.Stderr, "nothing to show: all calendar sources failed and no cache is available")
		}
		os.Exit(1)
	}
}

// setup loads config and wires the engine.
func setup() (*app, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}

	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Debug("effective config",
		"listen", conf.Listen,
		"sources", len(conf.Sources),
		"cache_path", conf.SnapshotPath(),
		"cache_max_age", conf.CacheMaxAgeDuration(),
		"stale_multiplier", conf.StaleMultiplier,
		"fetch_timeout", conf.FetchTimeoutDuration(),
		"refresh", conf.RefreshCron,
	)

	store := cache.NewStore(conf.SnapshotPath())
	fetcher := ics.NewHTTPFetcher(conf.FetchTimeoutDuration())
	return &app{
		cfg:   conf,
		store: store,
		agg:   ics.NewAggregator(fetcher, store),
		force: flags.refresh,
	}, nil
}
