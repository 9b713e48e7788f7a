package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
	"bizflow/internal/storage"
	logx "bizflow/pkg/logx"
)

type dueSource struct {
	tasks    []domain.DueTask
	payments []domain.Payment
	entered  chan struct{}
	block    chan struct{}
}

func (s *dueSource) OpenTasksDue(_ context.Context, until time.Time) ([]domain.DueTask, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.block
	}
	var out []domain.DueTask
	for _, t := range s.tasks {
		if t.DueDate != nil && !t.DueDate.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *dueSource) PendingPaymentsDue(_ context.Context, until time.Time) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range s.payments {
		if p.DueDate != nil && !p.DueDate.After(until) {
			out = append(out, p)
		}
	}
	return out, nil
}

type sender struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (s *sender) Send(_ context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Notification{}, s.err
	}
	n.ID = "n-" + n.Type
	s.sent = append(s.sent, n)
	return n, nil
}

type dispatcher struct {
	events []automation.Event
}

func (d *dispatcher) Dispatch(_ context.Context, ev automation.Event) ([]automation.ExecutionReport, error) {
	d.events = append(d.events, ev)
	return nil, nil
}

func openTask(id int64, at time.Time) domain.DueTask {
	return domain.DueTask{
		Task:        domain.Task{ID: id, ProjectID: 3, Title: "Wireframes", Status: "todo", Priority: "high", DueDate: &at},
		ProjectName: "Site",
	}
}

func newScanner(t *testing.T, src *dueSource, snd *sender, d Dispatcher) (*Scanner, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	m := NewMatcher(DefaultRules(), store, interval, logx.Nop())
	return NewScanner(src, m, snd, d, ScanConfig{Reinject: d != nil}, logx.Nop()), store
}

func TestScanFiresDayAheadReminderOnce(t *testing.T) {
	ctx := context.Background()
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due)}}
	snd := &sender{}
	sc, _ := newScanner(t, src, snd, nil)

	res, err := sc.Scan(ctx, due.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	require.Equal(t, []Fire{{EventType: TaskDue, EntityID: 7, Offset: "24h0m0s", NotificationID: "n-task.due"}}, res.Fired)

	require.Len(t, snd.sent, 1)
	n := snd.sent[0]
	assert.Equal(t, "admin", n.RecipientType)
	assert.Equal(t, "Task due: Wireframes", n.Title)
	assert.Equal(t, "/projects?project_id=3", n.Link)
	assert.False(t, n.Email)
	assert.True(t, n.Push)
	assert.Equal(t, "24h0m0s", n.Metadata["offset"])

	res, err = sc.Scan(ctx, due.Add(-24*time.Hour+2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Len(t, snd.sent, 1)
}

func TestScanOverdueAfterGrace(t *testing.T) {
	ctx := context.Background()
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due)}}
	snd := &sender{}
	sc, _ := newScanner(t, src, snd, nil)

	res, err := sc.Scan(ctx, due)
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, TaskDue, res.Fired[0].EventType)
	assert.Equal(t, "0s", res.Fired[0].Offset)

	res, err = sc.Scan(ctx, due.Add(interval))
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, Fire{EventType: TaskOverdue, EntityID: 7, Offset: OverdueKey, NotificationID: "n-task.overdue"}, res.Fired[0])

	res, err = sc.Scan(ctx, due.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, res.Fired, "overdue alerts fire once")
}

func TestScanOverdueOutlivesRetention(t *testing.T) {
	ctx := context.Background()
	cfg := storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "fire.db"), Retention: 720 * time.Hour}
	now := time.Now()
	longDue := now.Add(-60 * 24 * time.Hour)
	src := &dueSource{tasks: []domain.DueTask{openTask(7, longDue)}}
	snd := &sender{}

	scan := func(at time.Time) ScanResult {
		t.Helper()
		st, err := storage.Open(cfg, logx.Nop())
		require.NoError(t, err)
		defer st.Close()
		m := NewMatcher(DefaultRules(), st, interval, logx.Nop())
		res, err := NewScanner(src, m, snd, nil, ScanConfig{}, logx.Nop()).Scan(ctx, at)
		require.NoError(t, err)
		return res
	}

	first := scan(now.Add(-31 * 24 * time.Hour))
	require.Equal(t, []Fire{{EventType: TaskOverdue, EntityID: 7, Offset: OverdueKey, NotificationID: "n-task.overdue"}}, first.Fired)

	second := scan(now)
	assert.Empty(t, second.Fired, "overdue claim older than retention still suppresses")
	assert.Len(t, snd.sent, 1)
}

func TestScanPaymentReminders(t *testing.T) {
	ctx := context.Background()
	pay := domain.Payment{ID: 11, ProjectID: 3, InvoiceNumber: "INV-001", Amount: 1500000, Status: "pending", DueDate: &due}
	paid := pay
	paid.ID, paid.Status = 12, "paid"
	src := &dueSource{payments: []domain.Payment{pay, paid}}
	snd := &sender{}
	sc, _ := newScanner(t, src, snd, nil)

	res, err := sc.Scan(ctx, due.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, int64(11), res.Fired[0].EntityID)
	assert.Equal(t, "72h0m0s", res.Fired[0].Offset)
	require.Len(t, snd.sent, 1)
	assert.Contains(t, snd.sent[0].Message, "1,500,000 due")
	assert.True(t, snd.sent[0].Email)
}

func TestScanReleasesClaimOnDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due)}}
	snd := &sender{err: errors.New("smtp down")}
	sc, store := newScanner(t, src, snd, nil)
	now := due.Add(-24 * time.Hour)

	res, err := sc.Scan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.Fired)
	_, fired, err := store.Fired(ctx, FireKeyFor(TaskDue, 7, "24h0m0s"))
	require.NoError(t, err)
	assert.False(t, fired)

	snd.err = nil
	res, err = sc.Scan(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, res.Fired, 1, "retried within the window")
}

func TestScanCountsDedupedDeliveryAsSuppressed(t *testing.T) {
	ctx := context.Background()
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due)}}
	snd := &sender{err: domain.ErrDuplicateNotification}
	d := &dispatcher{}
	sc, store := newScanner(t, src, snd, d)

	res, err := sc.Scan(ctx, due.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 1, res.Suppressed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, d.events, "nothing delivered, nothing re-injected")
	_, fired, err := store.Fired(ctx, FireKeyFor(TaskDue, 7, "24h0m0s"))
	require.NoError(t, err)
	assert.True(t, fired, "claim stands")
}

func TestScanReinjectsScheduledEvent(t *testing.T) {
	ctx := context.Background()
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due)}}
	d := &dispatcher{}
	sc, _ := newScanner(t, src, &sender{}, d)

	res, err := sc.Scan(ctx, due.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reinjected)
	require.Len(t, d.events, 1)
	ev := d.events[0]
	assert.Equal(t, automation.TriggerScheduled, ev.Trigger)
	assert.Equal(t, 1, ev.Depth)
	assert.Equal(t, "task.due:7", ev.Origin)
	assert.Equal(t, TaskDue, ev.Context["notification_type"])
	assert.Equal(t, int64(7), ev.Context["task_id"])
}

func TestScanRejectsOverlap(t *testing.T) {
	src := &dueSource{
		tasks:   []domain.DueTask{openTask(7, due)},
		entered: make(chan struct{}),
		block:   make(chan struct{}),
	}
	sc, _ := newScanner(t, src, &sender{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := sc.Scan(context.Background(), due)
		done <- err
	}()
	<-src.entered

	_, err := sc.Scan(context.Background(), due)
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(src.block)
	require.NoError(t, <-done)
}

func TestScanSkipsTasksOutsideHorizon(t *testing.T) {
	src := &dueSource{tasks: []domain.DueTask{openTask(7, due.Add(48*time.Hour))}}
	snd := &sender{}
	sc, _ := newScanner(t, src, snd, nil)

	res, err := sc.Scan(context.Background(), due)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Empty(t, snd.sent)
}
