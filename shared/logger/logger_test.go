package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger(t *testing.T) *test.Hook {
	t.Helper()

	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)

	previous := Log
	Log = newWrapper(l)
	t.Cleanup(func() { Log = previous })

	return hook
}

func TestTopLevel(t *testing.T) {
	hook := setupTestLogger(t)

	Info("Volume mounted", Ctx{"volume": "public:8,1"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Volume mounted", entry.Message)
	assert.Equal(t, "public:8,1", entry.Data["volume"])

	Debugf("Retrying %d", 3)
	assert.Equal(t, "Retrying 3", hook.LastEntry().Message)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)

	Debug("Plain")
	assert.Empty(t, hook.LastEntry().Data)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestAddContext(t *testing.T) {
	hook := setupTestLogger(t)

	l := AddContext(Ctx{"volume": "public:8,1"})
	l.Error("Failed", Ctx{"err": "boom"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "public:8,1", entry.Data["volume"])
	assert.Equal(t, "boom", entry.Data["err"])

	l.AddContext(Ctx{"user": 10}).Info("Nested")
	assert.Equal(t, "public:8,1", hook.LastEntry().Data["volume"])
	assert.Equal(t, 10, hook.LastEntry().Data["user"])
}

func TestInitLogger(t *testing.T) {
	previous := Log
	t.Cleanup(func() { Log = previous })

	logFile := t.TempDir() + "/vold.log"
	require.NoError(t, InitLogger(logFile, "", false, false, nil))

	Warn("Written to file")
	Info("Filtered out")

	assert.FileExists(t, logFile)
}

func TestOutputLevels(t *testing.T) {
	assert.Equal(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}, outputLevels(false, false))
	assert.Contains(t, outputLevels(true, false), logrus.InfoLevel)
	assert.NotContains(t, outputLevels(true, false), logrus.DebugLevel)
	assert.Contains(t, outputLevels(true, true), logrus.DebugLevel)
	assert.NotContains(t, outputLevels(false, true), logrus.TraceLevel)
}
