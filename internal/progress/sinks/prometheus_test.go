package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/novelarc/novelarc/internal/progress"
)

func TestPrometheusSinkTracksSessionsAndChapters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{SessionID: "s-1", TS: now, Stage: progress.StageSessionStart},
		{SessionID: "s-1", TS: now, Stage: progress.StageChapterDone, Seq: 1,
			Outcome: progress.OutcomeSuccess, Bytes: 128, Dur: time.Second},
		{SessionID: "s-1", TS: now, Stage: progress.StageChapterDone, Seq: 2,
			Outcome: progress.OutcomeError, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.chaptersTotal.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.chaptersTotal.WithLabelValues("error")))
	require.Equal(t, float64(128), testutil.ToFloat64(sink.uploadBytes))

	done := []progress.Event{{SessionID: "s-1", TS: now, Stage: progress.StageSessionDone}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.sessionsDone.WithLabelValues("finished")))
}

func TestPrometheusSinkDuplicateStartCountsOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{SessionID: "s-2", TS: now, Stage: progress.StageSessionStart},
		{SessionID: "s-2", TS: now, Stage: progress.StageSessionStart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.sessionsStarted))
}
