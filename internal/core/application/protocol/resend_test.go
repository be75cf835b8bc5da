package protocol

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func TestResendSchedule(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	delays := ResendSchedule(cfg)
	require.Len(t, delays, cfg.MaxResendAttempts)
	require.Equal(t, cfg.ResendInitialDelay, delays[0])
	require.Equal(t, cfg.ResendBaseDelay, delays[1])
	require.Equal(t, 2*cfg.ResendBaseDelay, delays[2])
	for i := 1; i < len(delays); i++ {
		require.GreaterOrEqual(t, delays[i], delays[i-1])
	}

	cfg.MaxResendAttempts = 0
	require.Empty(t, ResendSchedule(cfg))
}

func TestReprocessDelay(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, cfg.ReprocessBaseDelay, reprocessDelay(cfg, 1))
	require.Equal(t, 2*cfg.ReprocessBaseDelay, reprocessDelay(cfg, 2))
	require.Equal(t, 4*cfg.ReprocessBaseDelay, reprocessDelay(cfg, 3))
}

func TestResendScheduler(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ResendInitialDelay = 5 * time.Millisecond
	cfg.ResendBaseDelay = 5 * time.Millisecond
	cfg.ResendFactor = 1
	cfg.MaxResendAttempts = 3

	s := newResendScheduler(cfg)
	key := resendKey{domain.MsgPaymentSent, domain.PeerTaker}

	var attempts int32
	s.schedule(key, func(int) { atomic.AddInt32(&attempts, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return !s.isScheduled(key)
	}, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestResendSchedulerCancel(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ResendInitialDelay = 20 * time.Millisecond

	s := newResendScheduler(cfg)
	key := resendKey{domain.MsgPaymentReceived, domain.PeerMaker}

	var attempts int32
	s.schedule(key, func(int) { atomic.AddInt32(&attempts, 1) })
	require.True(t, s.isScheduled(key))

	s.cancel(key)
	require.False(t, s.isScheduled(key))

	s.schedule(key, func(int) { atomic.AddInt32(&attempts, 1) })
	s.stop()
	s.schedule(key, func(int) { atomic.AddInt32(&attempts, 1) })
	require.False(t, s.isScheduled(key))

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&attempts))
}
