package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })
	return logs
}

func TestUninitializedIsNoop(t *testing.T) {
	SetLogger(nil)
	assert.False(t, IsCategoryEnabled(CategoryTraining))
	// Must not panic.
	Get(CategoryTraining).Info("hello %d", 1)
	Training("round %d", 2)
	Sync()
}

func TestCategoryField(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	Staleness("task %s outdated", "sum")
	CompilerDebug("attempt %d", 3)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "task sum outdated", entries[0].Message)
	assert.Equal(t, "staleness", entries[0].ContextMap()["category"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "compiler", entries[1].ContextMap()["category"])
}

func TestLevelFiltering(t *testing.T) {
	logs := observe(t, zapcore.WarnLevel)

	Get(CategoryAPI).Debug("dropped")
	Get(CategoryAPI).Info("dropped")
	Get(CategoryAPI).Warn("kept")
	Get(CategoryAPI).Error("kept too")

	assert.Equal(t, 2, logs.Len())
}

func TestWithFields(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)

	Get(CategoryTraining).With("round", 2).Info("scored")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 2, entries[0].ContextMap()["round"])
}

func TestInitializeWritesFileAndFiltersCategories(t *testing.T) {
	ws := t.TempDir()
	t.Cleanup(func() { SetLogger(nil) })

	err := Initialize(ws, Config{
		Level:      "debug",
		JSONFormat: true,
		File:       filepath.Join("logs", "taskforge.log"),
		Categories: map[string]bool{"sandbox": false},
	})
	require.NoError(t, err)

	assert.True(t, IsCategoryEnabled(CategoryTraining))
	assert.False(t, IsCategoryEnabled(CategorySandbox))

	Training("visible")
	Sandbox("hidden")
	Sync()

	data, err := os.ReadFile(filepath.Join(ws, "logs", "taskforge.log"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, `"category":"training"`)
	assert.NotContains(t, out, "hidden")
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(t.TempDir(), Config{Level: "loud"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "loud"))
}

func TestConcurrentGet(t *testing.T) {
	observe(t, zapcore.InfoLevel)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Get(CategoryRetrieval).Info("concurrent")
		}()
	}
	wg.Wait()
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	timer := StartTimer(CategoryTraining, "Round")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}
