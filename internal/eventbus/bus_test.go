package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	reminders, unsubRem := b.Subscribe(4, "reminder.")
	defer unsubRem()

	b.Publish(Event{Type: "automation.executed"})
	b.Publish(Event{Type: "reminder.fired", Data: 7})

	assert.Equal(t, "automation.executed", (<-all).Type)
	assert.Equal(t, "reminder.fired", (<-all).Type)

	ev := <-reminders
	assert.Equal(t, "reminder.fired", ev.Type)
	assert.False(t, ev.Time.IsZero())
	assert.Empty(t, reminders)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	st, ok := b.(Stats)
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Published())
	assert.Equal(t, uint64(1), st.Dropped())

	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
