package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

func TestSubscribeReplaysBacklogThenLiveEvents(t *testing.T) {
	b := NewBus(8)
	ctx := context.Background()

	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventRunStarted})
	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventPhaseStarted, Phase: "planning"})

	sub := b.Subscribe("r1", 0)
	defer sub.Close()

	first := <-sub.Events()
	assert.Equal(t, models.EventRunStarted, first.EventType)
	assert.Equal(t, uint64(1), first.Sequence)

	second := <-sub.Events()
	assert.Equal(t, models.EventPhaseStarted, second.EventType)
	assert.Equal(t, uint64(2), second.Sequence)

	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventPhaseCompleted, Phase: "planning"})
	third := <-sub.Events()
	assert.Equal(t, models.EventPhaseCompleted, third.EventType)
	assert.Equal(t, uint64(3), third.Sequence)
}

func TestSubscribeFromOffsetSkipsEarlierEvents(t *testing.T) {
	b := NewBus(8)
	ctx := context.Background()
	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventRunStarted})
	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventPhaseStarted})

	sub := b.Subscribe("r1", 1)
	defer sub.Close()

	evt := <-sub.Events()
	assert.Equal(t, models.EventPhaseStarted, evt.EventType)
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus(2)
	ctx := context.Background()
	sub := b.Subscribe("r1", 0)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventAgentStarted})
	}

	assert.Greater(t, sub.Dropped(), uint64(0))
	assert.Equal(t, sub.Dropped(), b.EventsDropped("r1"))
}

func TestHistoryReturnsFullRetainedLogRegardlessOfSubscribers(t *testing.T) {
	b := NewBus(4)
	ctx := context.Background()
	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventRunStarted})
	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventRunCompleted})

	hist := b.History("r1", 0)
	require.Len(t, hist, 2)
	assert.Equal(t, models.EventRunStarted, hist[0].EventType)
	assert.Equal(t, models.EventRunCompleted, hist[1].EventType)
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	b := NewBus(4)
	ctx := context.Background()
	sub := b.Subscribe("r1", 0)
	sub.Close()

	b.Publish(ctx, models.Event{RunID: "r1", EventType: models.EventRunStarted})
	assert.Equal(t, uint64(0), b.EventsDropped("r1"))
}
