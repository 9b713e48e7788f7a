package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/domain"
	"bizflow/internal/eventbus"
	"bizflow/internal/transport"
	logx "bizflow/pkg/logx"
)

type memWriter struct {
	mu  sync.Mutex
	got []domain.Notification
	err error
}

func (w *memWriter) CreateNotification(_ context.Context, n domain.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, n)
	return nil
}

type fakeChannel struct {
	name string
	mu   sync.Mutex
	errs []error
	sent int
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(context.Context, domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	}
	c.sent++
	return nil
}

func fastConfig() Config {
	return Config{Enabled: true, Workers: 1, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func waitFor(t *testing.T, ch <-chan eventbus.Event, typ string) Delivery {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev.Data.(Delivery)
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestSendRecordsAndDeliversOnRequestedChannels(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32, "notifier.")
	defer unsub()

	w := &memWriter{}
	email := &fakeChannel{name: transport.ChannelEmail}
	push := &fakeChannel{name: transport.ChannelPush}
	s := New(fastConfig(), w, logx.Nop(), bus, email, push)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	n, err := s.Send(context.Background(), domain.Notification{Type: "task.due", Title: "Task due: X", Push: true})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, "admin", n.RecipientType)

	d := waitFor(t, events, EventSent)
	assert.Equal(t, transport.ChannelPush, d.Channel)
	assert.Equal(t, n.ID, d.NotificationID)

	require.Len(t, w.got, 1)
	assert.Equal(t, n.ID, w.got[0].ID)
	assert.Equal(t, 0, email.sent)
	assert.Equal(t, []string{"email", "push"}, s.Channels())
}

func TestDeliveryRetriesTransientErrors(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32, "notifier.")
	defer unsub()
	ch := &fakeChannel{name: transport.ChannelEmail, errs: []error{errors.New("421 try later"), errors.New("421 try later")}}
	s := New(fastConfig(), nil, logx.Nop(), bus, ch)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, err := s.Send(context.Background(), domain.Notification{Type: "payment.due", Title: "Payment due", Email: true})
	require.NoError(t, err)
	d := waitFor(t, events, EventSent)
	assert.Equal(t, 3, d.Attempts)
}

func TestDeliveryStopsOnPermanentError(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32, "notifier.")
	defer unsub()
	ch := &fakeChannel{name: transport.ChannelPush, errs: []error{transport.Permanent(errors.New("chat not found"))}}
	s := New(fastConfig(), nil, logx.Nop(), bus, ch)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, err := s.Send(context.Background(), domain.Notification{Type: "task.due", Title: "t", Push: true})
	require.NoError(t, err)
	d := waitFor(t, events, EventFailed)
	assert.Equal(t, 1, d.Attempts)
	assert.Contains(t, d.Error, "chat not found")
	assert.Equal(t, StatusFailed, s.History()[len(s.History())-1].Status)
}

func TestSendFailsWhenRecordFails(t *testing.T) {
	s := New(Config{}, &memWriter{err: errors.New("disk full")}, logx.Nop(), nil)
	_, err := s.Send(context.Background(), domain.Notification{Type: "task.due", Title: "t"})
	assert.ErrorContains(t, err, "disk full")

	_, err = s.Send(context.Background(), domain.Notification{Type: "task.due"})
	assert.Error(t, err)
}

func TestSendWhileStoppedKeepsInAppRecord(t *testing.T) {
	w := &memWriter{}
	s := New(Config{Enabled: true}, w, logx.Nop(), nil, &fakeChannel{name: transport.ChannelPush})

	_, err := s.Send(context.Background(), domain.Notification{Type: "task.due", Title: "t", Push: true})
	require.NoError(t, err)
	assert.Len(t, w.got, 1)
	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, StatusDropped, h[0].Status)
	assert.Equal(t, ErrStopped.Error(), h[0].Error)
}

func TestDedupWindow(t *testing.T) {
	w := &memWriter{}
	cfg := Config{DedupWindow: time.Minute}
	s := New(cfg, w, logx.Nop(), nil)
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n := domain.Notification{Type: "task.due", Title: "same"}
	_, err := s.Send(context.Background(), n)
	require.NoError(t, err)
	dup, err := s.Send(context.Background(), n)
	require.ErrorIs(t, err, domain.ErrDuplicateNotification)
	assert.Empty(t, dup.ID, "a deduped notification is never stored")
	assert.Len(t, w.got, 1)
	hist := s.History()
	require.NotEmpty(t, hist)
	assert.Equal(t, StatusDeduped, hist[len(hist)-1].Status)

	now = now.Add(2 * time.Minute)
	_, err = s.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Len(t, w.got, 2)
}

func TestDedupKeepsDistinctEntities(t *testing.T) {
	w := &memWriter{}
	s := New(Config{DedupWindow: time.Minute}, w, logx.Nop(), nil)

	ids := map[string]bool{}
	for _, entity := range []int64{1, 2} {
		sent, err := s.Send(context.Background(), domain.Notification{
			Type:     "payment_received",
			Title:    "Payment received",
			Metadata: map[string]any{"entity_id": entity},
		})
		require.NoError(t, err)
		ids[sent.ID] = true
	}
	require.Len(t, w.got, 2, "same text for two entities is two notifications")
	for _, n := range w.got {
		assert.True(t, ids[n.ID], "returned IDs are the stored ones")
	}

	_, err := s.Send(context.Background(), domain.Notification{
		Type:     "payment_received",
		Title:    "Payment received",
		Metadata: map[string]any{"entity_id": int64(2)},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateNotification)
	assert.Len(t, w.got, 2)
}

func TestRetryDelayIsBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 70*time.Millisecond)
	}
}
