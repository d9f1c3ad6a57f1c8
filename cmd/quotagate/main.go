// Package main is the entry point for quotagate, the daily usage quota
// service behind the free tier of the code explainer.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/codelens/quotagate/bootstrap"
	"github.com/codelens/quotagate/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "quotagate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	hotReload := flag.Bool("hot-reload", true, "Enable hot reload of configuration")
	flag.Parse()

	if *showVersion {
		fmt.Printf("quotagate %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Store: %s\n", cfg.Store.Driver)
		fmt.Printf("  Daily limit: %d\n", cfg.Quota.DailyLimit)
		fmt.Printf("  Timezone: %s\n", cfg.Quota.Timezone)
		os.Exit(0)
	}

	var app *bootstrap.App
	var err error

	if _, statErr := os.Stat(*configPath); statErr != nil {
		// No config file: run on defaults plus environment variables.
		app, err = bootstrap.New(config.Default())
	} else if *hotReload {
		app, err = bootstrap.NewWithHotReload(*configPath)
	} else {
		cfg, loadErr := config.Load(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", loadErr)
			os.Exit(1)
		}
		app, err = bootstrap.New(cfg)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	// Run (blocks until shutdown)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
