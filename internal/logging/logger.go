// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package logging builds the daemon's structured logger and masks
// credentials before they can reach a log line or the terminal.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fgp/postgres/internal/paths"
)

// New builds the daemon logger. In foreground mode log lines go to
// stderr in console form; in background mode they are appended as JSON
// to the service log file, since stderr is detached from any terminal.
func New(level string, foreground bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	if foreground {
		encCfg := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			lvl,
		)
		return zap.New(core), nil
	}

	if err := os.MkdirAll(paths.ServiceDir(), paths.DirMode); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(paths.LogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, paths.FileMode)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(f),
		lvl,
	)
	return zap.New(core), nil
}
