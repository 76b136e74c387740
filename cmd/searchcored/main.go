// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Command searchcored is a minimal process wiring example for the
// concurrent execution core: it loads config, starts a runtime.Runtime,
// and blocks until interrupted. It exists to demonstrate startup/teardown
// order, not as a standalone server (the core has no host of its own to
// embed into).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/molecula/searchcore/cmd"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := NewRootCommand(cmd.NewCmdIO(os.Stdin, os.Stdout, os.Stderr))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the searchcored cobra command tree, in the style
// of the project's own root command construction: subcommands are added
// via AddCommand, flags are bound to local variables that runServe applies
// over the loaded config.
func NewRootCommand(cmdIO *cmd.CmdIO) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "searchcored",
		Short:         "Runs the concurrent execution core's example process wiring.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCommand(cmdIO))
	return rootCmd
}

func newServeCommand(cmdIO *cmd.CmdIO) *cobra.Command {
	var configPath string
	var logPath string
	var poolSizeNoAuto bool
	var searchPoolSize int
	var indexPoolSize int

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the runtime and blocks until interrupted.",
		RunE: func(c *cobra.Command, args []string) error {
			return runServe(cmdIO, configPath, logPath, searchPoolSize, indexPoolSize, poolSizeNoAuto)
		},
	}

	flags := serveCmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to a TOML config file.")
	flags.StringVar(&logPath, "log-path", "", "Log file path (reopened on SIGHUP). Empty: log to stderr.")
	flags.IntVar(&searchPoolSize, "search-pool-size", 0, "Search pool thread count (0: use config/default).")
	flags.IntVar(&indexPoolSize, "index-pool-size", 0, "Index pool fallback thread count (0: use config/default).")
	flags.BoolVar(&poolSizeNoAuto, "pool-size-no-auto", false, "Disable CPU auto-detection for the index pool.")

	return serveCmd
}

func runServe(cmdIO *cmd.CmdIO, configPath, logPath string, searchPoolSize, indexPoolSize int, poolSizeNoAuto bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if searchPoolSize > 0 {
		cfg.SearchPoolSize = searchPoolSize
	}
	if indexPoolSize > 0 {
		cfg.IndexPoolSize = indexPoolSize
	}
	if poolSizeNoAuto {
		cfg.PoolSizeNoAuto = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, closeLog, err := buildLogger(cmdIO, logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	rt := newRuntime(cfg, l)
	l.Infof("searchcored: started search pool %d, index pool %d", rt.Search, rt.Index)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			if err := reopenLog(l); err != nil {
				l.Errorf("searchcored: reopening log file: %v", err)
			}
			continue
		}
		break
	}

	l.Infof("searchcored: shutting down")
	rt.Close()
	return nil
}
