package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/eventbus"
	logx "bizflow/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    Spec
		wantErr bool
	}{
		{in: "*/5 * * * *", want: Spec{Cron: "*/5 * * * *"}},
		{in: "@hourly", want: Spec{Cron: "@hourly"}},
		{in: "@every 5m", want: Spec{Cron: "@every 5m"}},
		{in: "cron: 0 8 * * *", want: Spec{Cron: "0 8 * * *"}},
		{in: "5m", want: Spec{Every: 5 * time.Minute}},
		{in: "02:30", want: Spec{Every: 2*time.Hour + 30*time.Minute}},
		{in: "every: 00:05", want: Spec{Every: 5 * time.Minute}},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "cron:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "@every 5m0s", Spec{Every: 5 * time.Minute}.CronSpec())
}

func newService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s, err := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), bus)
	require.NoError(t, err)
	return s
}

func TestAddValidates(t *testing.T) {
	s := newService(t, nil)
	assert.Error(t, s.Add("", "5m", 0, func(context.Context) error { return nil }))
	assert.Error(t, s.Add("x", "5m", 0, nil))
	assert.Error(t, s.Add("x", "61 * * * *", 0, func(context.Context) error { return nil }))

	_, err := New(Config{Timezone: "Mars/Olympus"}, logx.Nop(), nil)
	assert.Error(t, err)
}

func TestRunNowSkipsWhileRunning(t *testing.T) {
	s := newService(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("scan", "5m", time.Second, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ran, err := s.RunNow("scan")
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-entered

	ran, err := s.RunNow("scan")
	require.NoError(t, err)
	assert.False(t, ran)
	close(release)
	<-done

	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.Equal(t, 1, info[0].Runs)
	assert.Equal(t, 1, info[0].Skipped)

	_, err = s.RunNow("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunAppliesTimeoutAndRecordsError(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, EventRun)
	defer unsub()
	s := newService(t, bus)
	require.NoError(t, s.Add("slow", "1h", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ran, err := s.RunNow("slow")
	assert.True(t, ran)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, s.Snapshot()[0].LastErr, "deadline")

	ev := <-events
	assert.Equal(t, "slow", ev.Data.(runEvent).Name)
}

func TestStartFiresIntervalJobs(t *testing.T) {
	s := newService(t, nil)
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.False(t, info[0].Next.IsZero())

	assert.True(t, s.Remove("tick"))
	assert.False(t, s.Remove("tick"))
}
