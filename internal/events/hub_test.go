package events

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(history int) *Hub {
	return NewHub(history, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubFanOut(t *testing.T) {
	hub := newTestHub(10)

	first, cancelFirst := hub.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe(4)
	defer cancelSecond()

	hub.Publish(Event{Type: TypeScrapingStarted, Message: "started"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeScrapingStarted, e.Type)
			assert.Equal(t, LevelInfo, e.Level)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubSlowSubscriberDropsEvents(t *testing.T) {
	hub := newTestHub(10)

	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Log(LevelInfo, "one")
	hub.Log(LevelInfo, "two")
	hub.Log(LevelWarning, "three")

	e := <-ch
	assert.Equal(t, "one", e.Message)
	assert.Equal(t, 2, hub.Dropped())
	assert.Len(t, hub.Recent(0), 3, "history keeps every event")
}

func TestHubCancel(t *testing.T) {
	hub := newTestHub(10)

	ch, cancel := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())

	hub.Log(LevelInfo, "after cancel")
}

func TestHubRecent(t *testing.T) {
	hub := newTestHub(3)

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		hub.Log(LevelInfo, msg)
	}

	all := hub.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Message)
	assert.Equal(t, "e", all[2].Message)

	last := hub.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Message)

	assert.Len(t, hub.Recent(10), 3)
}
