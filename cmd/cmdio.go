// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package cmd holds small helpers shared by the core's command-line
// entry points, adapted from the teacher's root-level CmdIO.
package cmd

import (
	"io"

	"github.com/molecula/searchcore/logger"
)

// CmdIO holds standard unix inputs and outputs, plus the logger built from
// them.
type CmdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	logger logger.Logger
}

// NewCmdIO returns a new instance of CmdIO with inputs and outputs set to
// the arguments.
func NewCmdIO(stdin io.Reader, stdout, stderr io.Writer) *CmdIO {
	return &CmdIO{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		logger: logger.NewStandardLogger(stderr),
	}
}

// Logger returns the CmdIO's logger, writing to Stderr.
func (c *CmdIO) Logger() logger.Logger {
	return c.logger
}
