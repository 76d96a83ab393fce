package events

import (
	"bytes"
	"context"
	"testing"
	"time"

	cblog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/logger"
)

func TestFromContextDefaultsToNoOp(t *testing.T) {
	ClearGlobal()

	sink := FromContext(context.Background())
	require.IsType(t, NoOpSink{}, sink)
	require.True(t, sink.TryEmit(context.Background(), "x", nil))
}

func TestWithSinkInstallsAndInherits(t *testing.T) {
	t.Parallel()

	capture := NewCaptureSink()
	ctx := WithSink(context.Background(), capture)
	child, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	FromContext(child).Emit(child, "inherited", nil)
	require.Equal(t, []string{"inherited"}, capture.Types())
}

func TestGlobalSinkFallback(t *testing.T) {
	capture := NewCaptureSink()
	SetGlobal(capture)
	defer ClearGlobal()

	FromContext(context.Background()).Emit(context.Background(), "global", nil)
	require.Equal(t, []string{"global"}, capture.Types())
}

func TestLoggingSinkWritesSortedPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Writer: &buf, Formatter: cblog.JSONFormatter})
	require.NoError(t, err)

	sink := NewLoggingSink(log)
	sink.Emit(context.Background(), "stage.completed", map[string]interface{}{
		"stage":  "fetch",
		"status": "ok",
	})

	out := buf.String()
	require.Contains(t, out, "stage.completed")
	require.Contains(t, out, "fetch")
}

func TestTimestampIsUTCRFC3339(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("X", 3600)
	ts := Timestamp(time.Date(2026, 3, 1, 13, 0, 0, 0, loc))
	require.Equal(t, "2026-03-01T12:00:00Z", ts)
}

func TestStringOrNil(t *testing.T) {
	t.Parallel()

	require.Nil(t, StringOrNil(""))
	require.Equal(t, "abc", StringOrNil("abc"))
}
