// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging builds the zap loggers of the commands.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to standard error at level ("debug",
// "info", ...) in format "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	cfg, err := config(level, format)
	if err != nil {
		return nil, err
	}
	return cfg.Build()
}

// NewWriter is like New but writes to w.
func NewWriter(w io.Writer, level, format string) (*zap.Logger, error) {
	cfg, err := config(level, format)
	if err != nil {
		return nil, err
	}
	var enc zapcore.Encoder
	if cfg.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level)), nil
}

func config(level, format string) (zap.Config, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("log level: %w", err)
	}
	var cfg zap.Config
	switch format {
	case "json", "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = lvl
	cfg.Sampling = nil
	return cfg, nil
}
