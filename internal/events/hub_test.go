package events

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	ch, cancel := hub.Subscribe(TopicDrive)
	defer cancel()

	hub.Publish(TopicDrive, "connected", "nas")

	ev := <-ch
	assert.Equal(t, TopicDrive, ev.Topic)
	assert.Equal(t, "connected", ev.Kind)
	assert.Equal(t, "nas", ev.Data)
	assert.False(t, ev.Time.IsZero())
}

func TestHub_TopicFilter(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	ch, cancel := hub.Subscribe(TopicTransfer)
	defer cancel()

	hub.Publish(TopicDevice, "found", nil)
	hub.Publish(TopicTransfer, "queued", nil)

	ev := <-ch
	assert.Equal(t, TopicTransfer, ev.Topic)
	assert.Empty(t, ch)
}

func TestHub_NoTopicsMeansAll(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(TopicDevice, "found", nil)
	hub.Publish(TopicSync, "success", nil)

	assert.Len(t, ch, 2)
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	_, cancel := hub.Subscribe(TopicDevice)
	defer cancel()

	for range defaultBuffer + 10 {
		hub.Publish(TopicDevice, "found", nil)
	}

	assert.Equal(t, int64(10), hub.Dropped())
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())

	ch, cancel := hub.Subscribe(TopicDrive)

	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic or deliver.
	hub.Publish(TopicDrive, "connected", nil)
}
