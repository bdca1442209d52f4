package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plan-agent/backend/internal/vision"
)

func TestProgressHubDeliversToSubscribers(t *testing.T) {
	hub := NewProgressHub()

	a := hub.Subscribe("doc-1")
	b := hub.Subscribe("doc-1")
	other := hub.Subscribe("doc-2")
	defer hub.Unsubscribe("doc-1", a)
	defer hub.Unsubscribe("doc-1", b)
	defer hub.Unsubscribe("doc-2", other)

	hub.Publish(vision.BatchProgress{DocumentID: "doc-1", DocumentsDone: 3, DocumentsTotal: 10})

	assert.Equal(t, 3, (<-a).DocumentsDone)
	assert.Equal(t, 3, (<-b).DocumentsDone)
	assert.Empty(t, other)
}

func TestProgressHubPublishNeverBlocks(t *testing.T) {
	hub := NewProgressHub()

	ch := hub.Subscribe("doc-1")
	defer hub.Unsubscribe("doc-1", ch)

	// Overrun the subscriber buffer without draining it.
	for i := 0; i < 100; i++ {
		hub.Publish(vision.BatchProgress{DocumentID: "doc-1", DocumentsDone: i})
	}

	assert.Equal(t, 16, len(ch))
}

func TestProgressHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewProgressHub()

	ch := hub.Subscribe("doc-1")
	hub.Unsubscribe("doc-1", ch)

	hub.Publish(vision.BatchProgress{DocumentID: "doc-1", DocumentsDone: 1})

	assert.Empty(t, ch)
}
