package main

import (
	"fmt"
	"os"

	"github.com/blockspam/blockspam/logger"
	"github.com/blockspam/blockspam/spammer"
	"github.com/blockspam/blockspam/util/panics"
	"github.com/blockspam/blockspam/util/profiling"
	"github.com/blockspam/blockspam/version"
)

func main() {
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command-line arguments: %s\n", err)
		os.Exit(1)
	}

	// Show version at startup.
	log.Infof("Version %s", version.Version())

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		profiling.Start(cfg.Profile, log)
	}

	spamCfg, err := cfg.spammerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in configuration: %s\n", err)
		os.Exit(1)
	}

	result, err := spammer.Run(spamCfg)
	if err != nil {
		log.Errorf("Spam run failed: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("Received %d responses in %s\n", result.Responses, result.Elapsed)
}
