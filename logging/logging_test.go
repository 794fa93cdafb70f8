package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "level %q", name)
	}
}

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, slog.LevelInfo, "json")
		logger.Info("hello", "region", "Global")

		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"region":"Global"`)
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, slog.LevelInfo, "text")
		logger.Info("hello", "region", "Global")

		assert.Contains(t, buf.String(), "msg=hello")
		assert.Contains(t, buf.String(), "region=Global")
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, slog.LevelWarn, "text")
		logger.Info("dropped")
		assert.Empty(t, buf.String())
	})
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	LogError(logger, "join failed", assert.AnError, slog.String("region", "Low SDI"))

	output := buf.String()
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, `"msg":"join failed"`)
	assert.Contains(t, output, `"region":"Low SDI"`)
	assert.Contains(t, output, assert.AnError.Error())

	// nil logger 不做任何事
	LogError(nil, "ignored", assert.AnError)
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	LogOperation(logger, "decomposition_complete",
		slog.Int("regions", 6),
		slog.Duration("duration", 0))

	output := buf.String()
	assert.Contains(t, output, `"msg":"decomposition_complete"`)
	assert.Contains(t, output, `"regions":6`)
	assert.NotContains(t, output, `"duration"`)

	buf.Reset()
	LogOperation(logger, "timed", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), `"duration"`)
}

type errorCloser struct{ err error }

func (e *errorCloser) Close() error { return e.err }

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	SafeCloseWithLogging(&errorCloser{}, logger, "read_csv")
	assert.Empty(t, buf.String())

	SafeCloseWithLogging(&errorCloser{err: assert.AnError}, logger, "read_csv")
	assert.Contains(t, buf.String(), `"msg":"failed to close resource"`)
	assert.Contains(t, buf.String(), `"operation":"read_csv"`)

	SafeCloseWithLogging(nil, logger, "nil")
}

func TestHandleDeferredError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	t.Run("sets error when function succeeded", func(t *testing.T) {
		fn := func() (err error) {
			defer HandleDeferredError(&err, func() error { return assert.AnError }, logger, "save_workbook")
			return nil
		}
		err := fn()
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "save_workbook")
	})

	t.Run("keeps original error", func(t *testing.T) {
		original := assert.AnError
		fn := func() (err error) {
			defer HandleDeferredError(&err, func() error { return context.Canceled }, logger, "save_workbook")
			return original
		}
		assert.Same(t, original, fn())
	})
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "text")

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
