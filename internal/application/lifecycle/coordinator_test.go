package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTimer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTimer) Background(context.Context) { r.add("background") }
func (r *recordingTimer) Foreground(context.Context) { r.add("foreground") }

func (r *recordingTimer) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingTimer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in      string
		want    Signal
		wantErr bool
	}{
		{"background", SignalBackground, false},
		{" Foreground ", SignalForeground, false},
		{"sleep", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignal(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinator_Handle(t *testing.T) {
	timer := &recordingTimer{}
	c := NewCoordinator(timer, nil)

	require.NoError(t, c.Handle(context.Background(), SignalBackground))
	require.NoError(t, c.Handle(context.Background(), SignalForeground))
	assert.Error(t, c.Handle(context.Background(), Signal("sleep")))

	assert.Equal(t, []string{"background", "foreground"}, timer.snapshot())
}

func TestCoordinator_RunUntilClosed(t *testing.T) {
	timer := &recordingTimer{}
	c := NewCoordinator(timer, nil)

	signals := make(chan Signal, 3)
	signals <- SignalBackground
	signals <- Signal("bogus")
	signals <- SignalForeground
	close(signals)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), signals)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Equal(t, []string{"background", "foreground"}, timer.snapshot())
}

func TestCoordinator_RunStopsOnCancel(t *testing.T) {
	c := NewCoordinator(&recordingTimer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, make(chan Signal))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
