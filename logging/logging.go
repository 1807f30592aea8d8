// Package logging configures the process-wide log15 root handler.
package logging

import (
	"io"
	"os"

	"heads-or-tails/config"

	"github.com/inconshreveable/log15"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the root logger at stdout and, when cfg.File is set, at a
// rotating logfmt file. Unknown levels fall back to info.
func Setup(cfg config.Log) {
	log15.Root().SetHandler(Handler(cfg, os.Stdout))
}

// Handler builds the handler Setup installs. Exposed for tests.
func Handler(cfg config.Log, console io.Writer) log15.Handler {
	lvl := Level(cfg.Level)
	consoleh := log15.LvlFilterHandler(lvl, log15.StreamHandler(console, log15.TerminalFormat()))
	if cfg.File == "" {
		return consoleh
	}

	rotate := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	fileh := log15.LvlFilterHandler(lvl, log15.StreamHandler(rotate, log15.LogfmtFormat()))
	return log15.MultiHandler(consoleh, fileh)
}

func Level(s string) log15.Lvl {
	lvl, err := log15.LvlFromString(s)
	if err != nil {
		return log15.LvlInfo
	}
	return lvl
}

// New returns a module logger, e.g. New("module", "services.coinflip").
func New(ctx ...interface{}) log15.Logger {
	return log15.Root().New(ctx...)
}
