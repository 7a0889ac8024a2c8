package xap

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapType returns zap.String with a type name of v
func ZapType(v interface{}) zap.Field {
	return zap.String("type", fmt.Sprintf("%T", v))
}

// Development returns a colored console logger writing to stderr,
// suitable for command line tools.
func Development() *zap.Logger {
	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder

	loggerConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.DebugLevel),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		Encoding:         "console",
		EncoderConfig:    encoder,
	}

	z, err := loggerConfig.Build()
	if err != nil {
		panic(err)
	}

	return z
}
