package main

import (
	"fmt"
	"os"
	"path/filepath"

	"composerkeys-mcp-server/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildLogger returns a production zap logger. In stdio mode the MCP
// protocol owns stdout, so logs go to cfg.File when set and are dropped
// otherwise.
func buildLogger(cfg config.LoggingConfig, stdio, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zcfg.Level = lvl
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zcfg.Sampling = nil
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch {
	case stdio && cfg.File == "":
		return zap.NewNop(), nil
	case stdio:
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	default:
		zcfg.OutputPaths = []string{"stderr"}
		zcfg.ErrorOutputPaths = []string{"stderr"}
	}
	return zcfg.Build()
}
