// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"github.com/molecula/searchcore/cmd"
	"github.com/molecula/searchcore/config"
	"github.com/molecula/searchcore/logger"
	"github.com/molecula/searchcore/metrics"
	"github.com/molecula/searchcore/runtime"
)

// loadConfig reads path if non-empty, otherwise returns package defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(), nil
	}
	return config.LoadFile(path)
}

// newRuntime builds a runtime.Runtime wired with the prometheus-backed pool
// stats collector. There is no real host or indexer in this standalone
// process wiring demonstration, so AsyncIndexQueue runs with a nil indexer
// and host context: Submit/worker-loop/PendingCount all still work,
// draining simply never gets real documents handed to it.
func newRuntime(cfg *config.Config, l logger.Logger) *runtime.Runtime {
	return runtime.New(runtime.Options{
		Config: cfg,
		Logger: l,
		Stats:  metrics.PoolStats{},
	})
}

// logFile, when non-nil, is the reopenable file backing the process
// logger; buildLogger stashes it here so reopenLog's SIGHUP handler can
// find it without threading extra state through main's signal loop.
var logFile *logger.FileWriter

// buildLogger returns a logger writing to path if given, else cmdIO's
// default stderr logger. The returned closer must be deferred by the
// caller.
func buildLogger(cmdIO *cmd.CmdIO, path string) (logger.Logger, func(), error) {
	if path == "" {
		return cmdIO.Logger(), func() {}, nil
	}
	fw, err := logger.NewFileWriter(path)
	if err != nil {
		return nil, nil, err
	}
	logFile = fw
	return logger.NewStandardLogger(fw), func() { fw.Close() }, nil
}

// reopenLog reopens the log file in place, the way a SIGHUP-triggered
// logrotate handoff expects: the old file descriptor is closed and a new
// one opened against the same path, so a renamed/rotated file starts fresh
// writes at the new inode.
func reopenLog(l logger.Logger) error {
	if logFile == nil {
		return nil
	}
	return logFile.Reopen()
}
