package cmd

import (
	"fmt"
	"io"

	"github.com/harrison/manifest/internal/logger"
)

// newRunLogger builds the console plus file logger pair used by the long
// running commands. A log directory failure disables file logging with a
// warning instead of aborting the run.
func newRunLogger(out io.Writer, logDir, level string) (logger.Logger, func()) {
	console := logger.NewConsoleLogger(out, level)

	file, err := logger.NewFileLoggerWithLevel(logDir, level)
	if err != nil {
		console.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
		return console, func() {}
	}

	return logger.NewMultiLogger(console, file), func() {
		_ = file.Close()
	}
}
