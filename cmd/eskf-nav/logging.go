package main

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"eskf-nav/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging tees the standard logger to a rotating file when a path is
// configured. The returned func restores stderr-only logging and closes the file.
func setupLogging(cfg config.LogConfig) (func(), error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.Path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return func() {
		log.SetOutput(os.Stderr)
		_ = lj.Close()
	}, nil
}
