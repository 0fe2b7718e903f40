package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockDrivesSessionToEnd(t *testing.T) {
	t.Parallel()

	m := New("ana", &stubVerifier{})
	var ends atomic.Int32
	m.OnEnd(func(Snapshot) { ends.Add(1) })
	_, err := m.Start(3)
	require.NoError(t, err)

	c := NewClock(m, 5*time.Millisecond)
	var ticks atomic.Int32
	c.OnTick = func(Snapshot) { ticks.Add(1) }
	c.Start()

	require.Eventually(t, func() bool { return m.Snapshot().State == StateEnded }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !c.Running() }, time.Second, time.Millisecond)
	require.Equal(t, int32(3), ticks.Load())
	require.Equal(t, int32(1), ends.Load())
	c.Stop()
}

func TestClockRestartDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	m := New("ana", &stubVerifier{accept: true})
	_, err := m.Start(1000)
	require.NoError(t, err)

	c := NewClock(m, 2*time.Millisecond)
	c.Start()
	c.Start() // already running: no second goroutine
	require.Eventually(t, func() bool { return m.Snapshot().Remaining <= 995 }, 2*time.Second, time.Millisecond)

	_, err = m.RequestPause(context.Background(), "letmein")
	require.NoError(t, err)
	c.Stop()
	require.False(t, c.Running())
	frozen := m.Snapshot().Remaining

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, frozen, m.Snapshot().Remaining)

	_, err = m.Resume()
	require.NoError(t, err)
	c.Start()
	require.Eventually(t, func() bool { return m.Snapshot().Remaining < frozen }, 2*time.Second, time.Millisecond)
	c.Stop()

	snap := m.Snapshot()
	require.Equal(t, StateLocked, snap.State)
	require.LessOrEqual(t, snap.Remaining, snap.Total)
}
