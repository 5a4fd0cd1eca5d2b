// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// log is the package-level logger used by dcr_rpc.  It defaults to a
// disabled backend so importing this package has no logging side effects;
// a host application wires its own backend with UseLogger.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logRotator is the rotating file sink created by InitLogRotator, if any.
var logRotator *rotator.Rotator

// InitLogRotator initializes a rotating file logger that writes to
// logFile and replaces the package logger with one backed by it at the
// given level.  It is optional: callers that already have their own
// btclog.Logger should use UseLogger instead.
func InitLogRotator(logFile, level string) error {
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create log rotator: %w", err)
	}
	logRotator = r

	backend := btclog.NewBackend(&rotatorWriter{r: r})
	logger := backend.Logger("RPCC")
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	logger.SetLevel(lvl)
	log = logger
	return nil
}

// rotatorWriter adapts rotator.Rotator (an io.WriteCloser with rotation)
// into the io.Writer expected by btclog.NewBackend.
type rotatorWriter struct {
	r *rotator.Rotator
}

func (w *rotatorWriter) Write(p []byte) (int, error) {
	if w.r == nil {
		return os.Stderr.Write(p)
	}
	return w.r.Write(p)
}
