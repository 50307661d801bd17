package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dunamismax/fitroom/internal/config"
)

const flags = log.LstdFlags | log.Lmsgprefix

// New returns a logger prefixed with "[name] " writing to stdout, and also to
// a rotating file when cfg.File is set. The returned closer releases the file.
func New(name string, cfg config.LogConfig) (*log.Logger, io.Closer) {
	prefix := "[" + name + "] "
	if strings.TrimSpace(cfg.File) == "" {
		return log.New(os.Stdout, prefix, flags), io.NopCloser(nil)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return log.New(io.MultiWriter(os.Stdout, file), prefix, flags), file
}
