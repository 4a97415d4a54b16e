package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/progress"
)

func TestLogSinkWritesOneLinePerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Records: 3},
		{RunID: runID, TS: time.Now(), Stage: progress.StageGroupsMerged, Processed: 2, Total: 2},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "deduplication started", entries[0].Message)
	require.Equal(t, "groups merged", entries[1].Message)
	require.Equal(t, int64(2), entries[1].ContextMap()["processed"])
	require.Equal(t, zap.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
}
