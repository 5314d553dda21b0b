package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jkaberg/vodfs/config"
	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const FileName = "vodfs.log"

func Load(conf *config.Log) {
	var writers []io.Writer

	if conf.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()})
	}

	if w := newRollingFile(conf); w != nil {
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	log.Logger = log.Output(io.MultiWriter(writers...))

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	l := "info"
	if conf.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		l = "debug"
	}

	log.Info().Str("minimum-level", l).Msg("setting log level")
}

func newRollingFile(conf *config.Log) io.Writer {
	if conf.Path == "" {
		return nil
	}

	if err := os.MkdirAll(conf.Path, 0744); err != nil {
		log.Error().Err(err).Str("path", conf.Path).Msg("can't create log directory")
		return nil
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(conf.Path, FileName),
		MaxBackups: conf.MaxBackups, // files
		MaxSize:    conf.MaxSize,    // megabytes
		MaxAge:     conf.MaxAge,     // days
	}
}
