package protocol

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const maxBackOffInterval = 24 * time.Hour

type resendKey struct {
	msgType  domain.MessageType
	receiver domain.PeerRole
}

type resendJob struct {
	timer    *time.Timer
	backoff  backoff.BackOff
	attempts int
	fn       func(attempt int)
}

// resendScheduler resends unacked messages with exponential backoff. There
// is at most one job per message type and receiver.
type resendScheduler struct {
	cfg Config

	lock   sync.Mutex
	jobs   map[resendKey]*resendJob
	closed bool
}

func newResendScheduler(cfg Config) *resendScheduler {
	return &resendScheduler{cfg: cfg, jobs: make(map[resendKey]*resendJob)}
}

// schedule replaces any job for the same key. fn is called at every attempt
// until the job is canceled or the max number of attempts is reached.
func (s *resendScheduler) schedule(key resendKey, fn func(attempt int)) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed || s.cfg.MaxResendAttempts == 0 {
		return
	}
	if job, ok := s.jobs[key]; ok {
		job.timer.Stop()
	}

	job := &resendJob{backoff: newResendBackOff(s.cfg), fn: fn}
	s.jobs[key] = job
	job.timer = time.AfterFunc(s.cfg.ResendInitialDelay, func() {
		s.fire(key, job)
	})
}

func (s *resendScheduler) fire(key resendKey, job *resendJob) {
	s.lock.Lock()
	if s.closed || s.jobs[key] != job {
		s.lock.Unlock()
		return
	}
	job.attempts++
	attempt := job.attempts
	s.lock.Unlock()

	job.fn(attempt)

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed || s.jobs[key] != job {
		return
	}
	if job.attempts >= s.cfg.MaxResendAttempts {
		delete(s.jobs, key)
		return
	}
	job.timer = time.AfterFunc(job.backoff.NextBackOff(), func() {
		s.fire(key, job)
	})
}

// cancel stops the job for the given key, if any.
func (s *resendScheduler) cancel(key resendKey) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if job, ok := s.jobs[key]; ok {
		job.timer.Stop()
		delete(s.jobs, key)
	}
}

func (s *resendScheduler) isScheduled(key resendKey) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// stop cancels every job. The scheduler can't be used afterwards.
func (s *resendScheduler) stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true
	for key, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, key)
	}
}

func newResendBackOff(cfg Config) backoff.BackOff {
	return newBackOff(cfg.ResendBaseDelay, cfg.ResendFactor)
}

func newBackOff(initial time.Duration, factor float64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = factor
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackOffInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ResendSchedule returns the delays between the attempts of a resend job,
// starting from the delay of the first attempt.
func ResendSchedule(cfg Config) []time.Duration {
	if cfg.MaxResendAttempts <= 0 {
		return nil
	}
	delays := []time.Duration{cfg.ResendInitialDelay}
	b := newResendBackOff(cfg)
	for i := 1; i < cfg.MaxResendAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

// reprocessDelay returns how long to wait before the given reprocess
// attempt, starting from 1.
func reprocessDelay(cfg Config, attempt int) time.Duration {
	b := newBackOff(cfg.ReprocessBaseDelay, 2)
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
