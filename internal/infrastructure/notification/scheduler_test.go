package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/timeutil"
)

// fakePlatform records scheduled reminders without arming real timers.
type fakePlatform struct {
	mu          sync.Mutex
	granted     bool
	failNext    bool
	scheduled   map[string]domain.Reminder
	cancelled   []string
	permChecked int
}

func newFakePlatform(granted bool) *fakePlatform {
	return &fakePlatform{granted: granted, scheduled: make(map[string]domain.Reminder)}
}

func (f *fakePlatform) PermissionGranted(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permChecked++
	return f.granted
}

func (f *fakePlatform) Schedule(_ context.Context, r domain.Reminder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return "", errors.New("platform busy")
	}
	id := "p-" + r.ID
	f.scheduled[id] = r
	return id, nil
}

func (f *fakePlatform) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, id)
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePlatform) live() []domain.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Reminder, 0, len(f.scheduled))
	for _, r := range f.scheduled {
		out = append(out, r)
	}
	return out
}

func newTestScheduler(p domain.Platform, clock timeutil.Clock) *Scheduler {
	return NewScheduler(context.Background(), p, clock, DefaultSchedulerConfig())
}

func TestScheduler_CompletionFireTime(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewFakeClock(1000)
	p := newFakePlatform(true)
	s := newTestScheduler(p, clock)

	h, err := s.ScheduleCompletion(ctx, 1500, timer.SessionTypeFocus, &timer.CourseRef{ID: "c1", Name: "Algebra"})
	require.NoError(t, err)
	assert.NotEmpty(t, h)
	assert.Equal(t, 1, s.Pending())

	live := p.live()
	require.Len(t, live, 1)
	assert.Equal(t, domain.KindCompletion, live[0].Kind)
	assert.Equal(t, int64(2500), live[0].FireAt.Unix())
	assert.Equal(t, "c1", live[0].CourseID)
	assert.Contains(t, live[0].Body, "Algebra")
}

func TestScheduler_ProgressOnlyForLongFocus(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewFakeClock(1000)
	p := newFakePlatform(true)
	s := newTestScheduler(p, clock)

	tests := []struct {
		name      string
		remaining int
		t         timer.SessionType
		wantLive  bool
	}{
		{"long focus", 1500, timer.SessionTypeFocus, true},
		{"exactly lead", 600, timer.SessionTypeFocus, false},
		{"short focus", 300, timer.SessionTypeFocus, false},
		{"long break", 1500, timer.SessionTypeBreak, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := s.ScheduleProgress(ctx, tt.remaining, tt.t, nil)
			require.NoError(t, err)
			if tt.wantLive {
				assert.NotEmpty(t, h)
				require.NoError(t, s.Cancel(ctx, h))
			} else {
				assert.Empty(t, h)
			}
		})
	}

	h, err := s.ScheduleProgress(ctx, 1500, timer.SessionTypeFocus, nil)
	require.NoError(t, err)
	require.NotEmpty(t, h)
	live := p.live()
	require.Len(t, live, 1)
	assert.Equal(t, int64(1000+1500-600), live[0].FireAt.Unix())
	assert.Equal(t, "10 minutes left", live[0].Title)
}

func TestScheduler_ProgressFlag(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform(true)
	enabled := false
	cfg := DefaultSchedulerConfig()
	cfg.ProgressFlag = func() bool { return enabled }
	s := NewScheduler(ctx, p, timeutil.NewFakeClock(1000), cfg)

	h, err := s.ScheduleProgress(ctx, 1500, timer.SessionTypeFocus, nil)
	require.NoError(t, err)
	assert.Empty(t, h)

	enabled = true
	h, err = s.ScheduleProgress(ctx, 1500, timer.SessionTypeFocus, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestScheduler_PermissionDeniedDegrades(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform(false)
	s := newTestScheduler(p, timeutil.NewFakeClock(0))

	h, err := s.ScheduleCompletion(ctx, 100, timer.SessionTypeFocus, nil)
	assert.Empty(t, h)
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, p.live())
}

func TestScheduler_PermissionRecheckedEveryCall(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform(true)
	s := newTestScheduler(p, timeutil.NewFakeClock(0))

	_, err := s.ScheduleCompletion(ctx, 100, timer.SessionTypeFocus, nil)
	require.NoError(t, err)

	p.mu.Lock()
	p.granted = false
	p.mu.Unlock()

	_, err = s.ScheduleCompletion(ctx, 100, timer.SessionTypeFocus, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, p.permChecked, "once at construction, once per schedule call")
}

func TestScheduler_PlatformFailure(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform(true)
	p.failNext = true
	s := newTestScheduler(p, timeutil.NewFakeClock(0))

	h, err := s.ScheduleCompletion(ctx, 100, timer.SessionTypeBreak, nil)
	assert.Empty(t, h)
	assert.True(t, errors.Is(err, shared.ErrNotificationFailure))
}

func TestScheduler_CancelAll(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform(true)
	s := newTestScheduler(p, timeutil.NewFakeClock(0))

	h1, _ := s.ScheduleCompletion(ctx, 1500, timer.SessionTypeFocus, nil)
	h2, _ := s.ScheduleProgress(ctx, 1500, timer.SessionTypeFocus, nil)
	require.Equal(t, 2, s.Pending())

	require.NoError(t, s.CancelAll(ctx, []timer.Handle{h1, h2, "unknown", ""}))
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, p.live())

	require.NoError(t, s.Cancel(ctx, h1), "cancelling twice is a no-op")
	assert.Len(t, p.cancelled, 2)
}

func TestLocalPlatform_DeliversAndCancels(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.SystemClock{}

	delivered := make(chan domain.Reminder, 4)
	p := NewLocalPlatform(clock, domain.DelivererFunc(func(_ context.Context, r domain.Reminder) error {
		delivered <- r
		return nil
	}), true, nil)
	defer p.Close()

	_, err := p.Schedule(ctx, domain.Reminder{ID: "soon", Kind: domain.KindCompletion, FireAt: clock.Now().Add(10 * time.Millisecond)})
	require.NoError(t, err)
	_, err = p.Schedule(ctx, domain.Reminder{ID: "later", Kind: domain.KindProgress, FireAt: clock.Now().Add(time.Hour)})
	require.NoError(t, err)

	select {
	case r := <-delivered:
		assert.Equal(t, "soon", r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder was not delivered")
	}

	require.NoError(t, p.Cancel(ctx, "later"))
	assert.Equal(t, 0, p.Armed())
	assert.Equal(t, int64(1), p.Delivered())
}

func TestLocalPlatform_RevokedPermissionSuppresses(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.SystemClock{}

	var calls int
	var mu sync.Mutex
	p := NewLocalPlatform(clock, domain.DelivererFunc(func(context.Context, domain.Reminder) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}), true, nil)
	defer p.Close()

	_, err := p.Schedule(ctx, domain.Reminder{ID: "r", FireAt: clock.Now().Add(20 * time.Millisecond)})
	require.NoError(t, err)
	p.SetPermission(false)

	assert.Eventually(t, func() bool { return p.Armed() == 0 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
	assert.Equal(t, int64(0), p.Delivered())
}

func TestLocalPlatform_ClosedRejects(t *testing.T) {
	p := NewLocalPlatform(nil, nil, true, nil)
	p.Close()
	_, err := p.Schedule(context.Background(), domain.Reminder{ID: "x"})
	assert.ErrorIs(t, err, ErrPlatformClosed)
}

func TestFanOut(t *testing.T) {
	var got []string
	a := domain.DelivererFunc(func(_ context.Context, r domain.Reminder) error { got = append(got, "a"); return nil })
	b := domain.DelivererFunc(func(_ context.Context, r domain.Reminder) error { got = append(got, "b"); return errors.New("b") })

	err := FanOut(a, nil, b).Deliver(context.Background(), domain.Reminder{})
	assert.EqualError(t, err, "b")
	assert.Equal(t, []string{"a", "b"}, got)
}
