package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()
	require.NoError(t, logger.Init("error", "console", "stdout"))

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	return db
}

func TestLoggerPersistsEvents(t *testing.T) {
	db := newTestDB(t)
	l := NewLogger(db, 16)

	l.Emit(Event{
		ProjectID:   "p1",
		QueryText:   "total length of waterline A",
		QueryType:   "quantity",
		Method:      "complete_system_data",
		Confidence:  0.8,
		ResultCount: 12,
		LatencyMS:   340,
		Success:     true,
	})
	l.Close()

	records, err := db.GetQueryAnalytics(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "complete_system_data", records[0].Method)
	assert.True(t, records[0].Success)
}

func TestEmitNeverBlocksWhenBufferIsFull(t *testing.T) {
	db := newTestDB(t)
	l := NewLogger(db, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			l.Emit(Event{ProjectID: "p1", QueryText: "q", Success: true})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	l.Close()
}

func TestEmitRacingCloseNeverPanics(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 200; i++ {
		l := NewLogger(db, 1)
		start := make(chan struct{})
		emitted := make(chan struct{})

		go func() {
			<-start
			defer close(emitted)
			for j := 0; j < 50; j++ {
				l.Emit(Event{ProjectID: "p1", QueryText: "q"})
			}
		}()

		close(start)
		l.Close()
		<-emitted
	}
}

func TestEmitAfterCloseDrops(t *testing.T) {
	db := newTestDB(t)
	l := NewLogger(db, 4)
	l.Close()

	assert.NotPanics(t, func() {
		l.Emit(Event{ProjectID: "p1", QueryText: "late"})
	})
	assert.Positive(t, l.Dropped())
}
