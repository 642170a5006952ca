// Package logging builds the daemon's zap logger
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "15:04:05.000"

// New builds a console logger writing to the given paths ("stderr" when
// none are given) and redirects the standard library logger into it. The
// returned function restores the standard logger and flushes.
func New(verbose bool, paths ...string) (*zap.SugaredLogger, func(), error) {
	var config zap.Config
	if verbose {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.Encoding = "console"
		config.Sampling = nil
	}
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.DisableStacktrace = !verbose
	if len(paths) > 0 {
		// no color codes in log files
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.OutputPaths = paths
		config.ErrorOutputPaths = paths
	}

	l, err := config.Build()
	if err != nil {
		return nil, nil, err
	}
	undo := zap.RedirectStdLog(l)
	return l.Sugar(), func() {
		undo()
		_ = l.Sync()
	}, nil
}
