package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"corpvpn/internal/core/types"
	"corpvpn/internal/core/xray"
)

// minSampleInterval bounds the divisor of a throughput sample.
const minSampleInterval = time.Millisecond

// Sampler turns the core's cumulative traffic counters into throughput.
// The first sample after Reset only establishes a baseline and reports zero.
type Sampler struct {
	querier  xray.StatsQuerier
	interval time.Duration
	emit     func(types.Stats)
	now      func() time.Time
	log      *slog.Logger

	mu sync.Mutex
	// epoch increments on every Reset so a query in flight across a reset
	// is discarded instead of becoming the new baseline.
	epoch     uint64
	hasPrev   bool
	prevTotal uint64
	prevTime  time.Time
}

// NewSampler creates a sampler polling q every interval and passing each
// sample to emit.
func NewSampler(q xray.StatsQuerier, interval time.Duration, emit func(types.Stats), log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Sampler{
		querier:  q,
		interval: interval,
		emit:     emit,
		now:      time.Now,
		log:      log.With("component", "sampler"),
	}
}

// Reset clears the baseline.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.hasPrev = false
	s.prevTotal = 0
	s.prevTime = time.Time{}
}

// LastTotal returns the last observed cumulative byte count.
func (s *Sampler) LastTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevTotal
}

// Tick takes one sample. It returns false when a Reset raced the query and
// the sample was dropped.
func (s *Sampler) Tick(ctx context.Context) (types.Stats, bool) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	total, err := s.querier.QueryTotal(ctx)
	return s.observe(epoch, total, err, s.now())
}

func (s *Sampler) observe(epoch, total uint64, err error, now time.Time) (types.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return types.Stats{}, false
	}

	// A failed query reports zero and keeps the baseline.
	if err != nil {
		return types.Stats{SampledAt: now, TotalBytes: s.prevTotal, Err: err}, true
	}

	if !s.hasPrev {
		s.hasPrev = true
		s.prevTotal = total
		s.prevTime = now
		return types.Stats{SampledAt: now, TotalBytes: total}, true
	}

	var delta uint64
	if total > s.prevTotal {
		delta = total - s.prevTotal
	}
	dt := now.Sub(s.prevTime)
	if dt < minSampleInterval {
		dt = minSampleInterval
	}

	s.prevTotal = total
	s.prevTime = now

	return types.Stats{
		Kbps:       float64(delta) * 8 / 1000 / dt.Seconds(),
		TotalBytes: total,
		SampledAt:  now,
	}, true
}

// Run samples every interval while active reports true, until ctx is done.
func (s *Sampler) Run(ctx context.Context, active func() bool) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !active() {
			continue
		}

		stats, ok := s.Tick(ctx)
		if !ok || ctx.Err() != nil {
			continue
		}
		if stats.Err != nil {
			s.log.Debug("stats query failed", "error", stats.Err)
		}
		if s.emit != nil {
			s.emit(stats)
		}
	}
}

// Start runs the sampler in the background. The returned stop function
// cancels it and waits up to 250ms for the loop to exit.
func (s *Sampler) Start(ctx context.Context, active func() bool) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, active)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(250 * time.Millisecond):
		}
	}
}
