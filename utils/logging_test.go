package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bankwatch/types"
)

func TestInitLoggerFileHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bankwatch.log")

	cfg := &types.Config{}
	cfg.Logging.OutputLevel = "warn"
	cfg.Logging.FilePath = path
	cfg.Logging.FileLevel = "debug"

	logWriter, logger := InitLogger(cfg)
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(logrus.LevelHooks{})
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	logger.WithField("module", "test").Debug("debug line")
	logger.WithField("module", "test").Trace("trace line")
	logWriter.Dispose()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug line")
	assert.Contains(t, string(content), `"module":"test"`)
	assert.NotContains(t, string(content), "trace line")
}

func TestLevelWriterHookLevels(t *testing.T) {
	hook := &levelWriterHook{level: logrus.WarnLevel}
	assert.Equal(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}, hook.Levels())
}

func TestLogErrorInfoChain(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("storage read failure: %w", base)

	entry := logErrorInfo(err, 0, map[string]interface{}{"slot": 3})
	assert.Equal(t, "storage read failure: ~error~", entry.Data["errInfo_0"])
	assert.Equal(t, 3, entry.Data["slot"])
	assert.Equal(t, base, entry.Data[logrus.ErrorKey])
}
