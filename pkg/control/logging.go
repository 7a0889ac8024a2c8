// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package control

import (
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel switches the level of the global logger at runtime.
type LogLevel struct {
	level zap.AtomicLevel
}

// InitLogger replaces the global zap logger. The console encoder is used
// when started at the debug level, the production JSON one otherwise.
func InitLogger(initialLevel string) (*LogLevel, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(initialLevel)); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	if lvl.Level() == zapcore.DebugLevel {
		encoder := zap.NewDevelopmentEncoderConfig()
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Encoding = "console"
		config.EncoderConfig = encoder
		config.OutputPaths = []string{"stdout"}
		config.Sampling = nil
	}
	config.Level = lvl

	z, err := config.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(z)
	return &LogLevel{level: lvl}, nil
}

func (l *LogLevel) Set(level string) error {
	if err := l.level.UnmarshalText([]byte(level)); err != nil {
		return xerror.EInvalidArgument("invalid logging level", err, zap.String("level", level))
	}
	zap.L().Info("log level changed", zap.Stringer("level", l.level.Level()))
	return nil
}

func (l *LogLevel) String() string {
	return l.level.String()
}
