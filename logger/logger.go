// Package logger builds the zap loggers used across genaiti.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stderr. Stdout is left to command
// output and the MCP stdio transport.
func New(debug bool) *zap.Logger {
	return NewWithWriter(os.Stderr, debug, false)
}

// NewWithWriter builds a logger on w. jsonFormat selects the JSON encoder used
// by the HTTP server in production.
func NewWithWriter(w io.Writer, debug, jsonFormat bool) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	var encoder zapcore.Encoder
	if jsonFormat {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}
