package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/types"
)

// LogFatal logs a fatal error with callstack info that skips callerSkip many levels with arbitrarily many additional infos.
// callerSkip equal to 0 gives you info directly where LogFatal is called.
func LogFatal(err error, errorMsg interface{}, callerSkip int, additionalInfos ...map[string]interface{}) {
	logErrorInfo(err, callerSkip, additionalInfos...).Fatal(errorMsg)
}

// LogError logs an error with callstack info that skips callerSkip many levels with arbitrarily many additional infos.
// callerSkip equal to 0 gives you info directly where LogError is called.
func LogError(err error, errorMsg interface{}, callerSkip int, additionalInfos ...map[string]interface{}) {
	logErrorInfo(err, callerSkip, additionalInfos...).Error(errorMsg)
}

func logErrorInfo(err error, callerSkip int, additionalInfos ...map[string]interface{}) *logger.Entry {
	logFields := logger.NewEntry(logger.StandardLogger())

	pc, fullFilePath, line, ok := runtime.Caller(callerSkip + 2)
	if ok {
		logFields = logFields.WithFields(logger.Fields{
			"_file":     filepath.Base(fullFilePath),
			"_function": runtime.FuncForPC(pc).Name(),
			"_line":     line,
		})
	} else {
		logFields = logFields.WithField("runtime", "Callstack cannot be read")
	}

	errColl := []string{}
	for {
		errColl = append(errColl, fmt.Sprint(err))
		nextErr := errors.Unwrap(err)
		if nextErr != nil {
			err = nextErr
		} else {
			break
		}
	}

	errMarkSign := "~"
	for idx := 0; idx < (len(errColl) - 1); idx++ {
		errInfoText := fmt.Sprintf("%serrInfo_%v%s", errMarkSign, idx, errMarkSign)
		nextErrInfoText := fmt.Sprintf("%serrInfo_%v%s", errMarkSign, idx+1, errMarkSign)
		if idx == (len(errColl) - 2) {
			nextErrInfoText = fmt.Sprintf("%serror%s", errMarkSign, errMarkSign)
		}

		// Replace the last occurrence of the next error in the current error
		lastIdx := strings.LastIndex(errColl[idx], errColl[idx+1])
		if lastIdx != -1 {
			errColl[idx] = errColl[idx][:lastIdx] + nextErrInfoText + errColl[idx][lastIdx+len(errColl[idx+1]):]
		}

		errInfoText = strings.ReplaceAll(errInfoText, errMarkSign, "")
		logFields = logFields.WithField(errInfoText, errColl[idx])
	}

	if err != nil {
		logFields = logFields.WithField("errType", fmt.Sprintf("%T", err)).WithError(err)
	}

	for _, infoMap := range additionalInfos {
		for name, info := range infoMap {
			logFields = logFields.WithField(name, info)
		}
	}

	return logFields
}

// LogWriter owns the optional log file opened by InitLogger.
type LogWriter struct {
	file *os.File
}

func (lw *LogWriter) Dispose() {
	if lw.file != nil {
		lw.file.Close()
		lw.file = nil
	}
}

// levelWriterHook writes entries up to a maximum level to one writer.
type levelWriterHook struct {
	mutex     sync.Mutex
	writer    io.Writer
	level     logger.Level
	formatter logger.Formatter
}

func (hook *levelWriterHook) Levels() []logger.Level {
	levels := []logger.Level{}
	for _, level := range logger.AllLevels {
		if level <= hook.level {
			levels = append(levels, level)
		}
	}
	return levels
}

func (hook *levelWriterHook) Fire(entry *logger.Entry) error {
	line, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mutex.Lock()
	defer hook.mutex.Unlock()
	_, err = hook.writer.Write(line)
	return err
}

func parseLogLevel(level string, fallback logger.Level) logger.Level {
	if level == "" {
		return fallback
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		logger.Warnf("invalid log level %q, using %v", level, fallback)
		return fallback
	}
	return parsed
}

// InitLogger configures the standard logger from the logging config section. Console and
// file output are separate hooks so each can use its own level.
func InitLogger(cfg *types.Config) (*LogWriter, logger.FieldLogger) {
	logWriter := &LogWriter{}
	stdLogger := logger.StandardLogger()

	outputLevel := parseLogLevel(cfg.Logging.OutputLevel, logger.InfoLevel)
	maxLevel := outputLevel

	var console io.Writer = os.Stdout
	if cfg.Logging.OutputStderr {
		console = os.Stderr
	}

	hooks := logger.LevelHooks{}
	hooks.Add(&levelWriterHook{
		writer:    console,
		level:     outputLevel,
		formatter: &logger.TextFormatter{FullTimestamp: true},
	})

	if cfg.Logging.FilePath != "" {
		file, err := os.OpenFile(cfg.Logging.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Errorf("error opening log file %v: %v", cfg.Logging.FilePath, err)
		} else {
			logWriter.file = file

			fileLevel := parseLogLevel(cfg.Logging.FileLevel, outputLevel)
			if fileLevel > maxLevel {
				maxLevel = fileLevel
			}
			hooks.Add(&levelWriterHook{
				writer:    file,
				level:     fileLevel,
				formatter: &logger.JSONFormatter{},
			})
		}
	}

	stdLogger.ReplaceHooks(hooks)
	stdLogger.SetOutput(io.Discard)
	stdLogger.SetLevel(maxLevel)

	return logWriter, stdLogger
}
