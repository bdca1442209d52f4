// Package analytics records query routing decisions for offline tuning
// of the classifier and the boost weights. Recording is fire-and-forget:
// a full buffer drops the event rather than delaying the query path.
package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

// Event is one routed query.
type Event struct {
	ProjectID   string
	QueryText   string
	QueryType   string
	Method      string
	Confidence  float64
	ResultCount int
	LatencyMS   int
	Success     bool
}

type Logger struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// mu makes the channel send and the close in Close mutually
	// exclusive. closed is only written under the write lock.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewLogger starts the consumer goroutine. buffer bounds how many events
// can be in flight before Emit starts dropping.
func NewLogger(db *sqlite.Client, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Logger{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		for e := range l.events {
			record := &models.QueryAnalytics{
				ID:          uuid.New().String(),
				ProjectID:   e.ProjectID,
				QueryText:   e.QueryText,
				QueryType:   e.QueryType,
				Method:      e.Method,
				Confidence:  e.Confidence,
				ResultCount: e.ResultCount,
				LatencyMS:   e.LatencyMS,
				Success:     e.Success,
				CreatedAt:   time.Now(),
			}
			if err := db.InsertQueryAnalytics(record); err != nil {
				logger.Warn("Failed to record query analytics", zap.Error(err))
			}
		}
	}()

	return l
}

// Emit never blocks. Events emitted after Close are dropped.
func (l *Logger) Emit(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.events <- e:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.Warn("Analytics buffer full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains buffered events and stops the consumer.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
	<-l.done
}
