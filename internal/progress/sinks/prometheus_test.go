package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arkivist/mediavault/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	taskID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{TaskID: taskID, TS: time.Now(), Stage: progress.StageTaskStart},
		{
			TaskID:   taskID,
			TS:       time.Now().Add(10 * time.Second),
			Stage:    progress.StageItemDone,
			Platform: "youtube",
			Bytes:    1024,
			Items:    1,
			Outcome:  progress.OutcomeCompleted,
			Dur:      200 * time.Millisecond,
		},
		{TaskID: taskID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageTaskDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.itemsFinished.WithLabelValues("youtube", "completed")),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.itemBytes.WithLabelValues("youtube")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.itemDuration, "vault_item_duration_seconds"))
}

// TestPrometheusSinkTracksSkippedTasks verifies duplicate short-circuits count
// as their own outcome and clear the running gauge.
func TestPrometheusSinkTracksSkippedTasks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	taskID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: taskID, TS: time.Now(), Stage: progress.StageTaskStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: taskID, TS: time.Now(), Stage: progress.StageTaskSkip, Dur: time.Second},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("skipped")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksRunning))
}
