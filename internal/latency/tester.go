package latency

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"corpvpn/internal/storage/models"
)

// Probe timeouts used when connecting and from the watchdog.
const (
	ConnectTimeout  = 1800 * time.Millisecond
	WatchdogTimeout = 1400 * time.Millisecond
)

// Recorder persists probe results.
type Recorder interface {
	RecordLatency(ctx context.Context, latency *models.LatencyTest) error
}

// TestResult holds the outcome for a single node.
type TestResult struct {
	Node    *models.Node
	Latency *models.LatencyTest
}

// DelayMS returns the measured delay, or -1 when the probe failed.
func (r *TestResult) DelayMS() int {
	if r == nil || r.Latency == nil || !r.Latency.Success || r.Latency.LatencyMS == nil {
		return -1
	}
	return *r.Latency.LatencyMS
}

// BatchResult holds the outcome of probing multiple nodes.
type BatchResult struct {
	Results   []*TestResult
	Tested    int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Best returns the least-delay successful result, or nil when every probe
// failed.
func (b *BatchResult) Best() *TestResult {
	if b == nil || len(b.Results) == 0 || !b.Results[0].Latency.Success {
		return nil
	}
	return b.Results[0]
}

// ProgressFunc is called each time a single probe completes during batch testing.
type ProgressFunc func(result *TestResult, current, total int)

// TesterConfig holds configuration for the Tester.
type TesterConfig struct {
	Workers  int64
	Timeout  time.Duration
	Strategy Strategy
}

// Tester orchestrates delay probes.
type Tester struct {
	recorder Recorder
	config   TesterConfig
	log      *slog.Logger
}

// NewTester creates a new Tester. recorder may be nil.
func NewTester(recorder Recorder, cfg TesterConfig, log *slog.Logger) *Tester {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ConnectTimeout
	}
	if cfg.Strategy == nil {
		cfg.Strategy = &TCPStrategy{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tester{
		recorder: recorder,
		config:   cfg,
		log:      log.With("component", "latency"),
	}
}

// TestSingle probes a single node and records the result.
func (t *Tester) TestSingle(ctx context.Context, node *models.Node) *TestResult {
	return t.test(ctx, node, t.config.Timeout)
}

func (t *Tester) test(ctx context.Context, node *models.Node, timeout time.Duration) *TestResult {
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	latencyMS, err := t.config.Strategy.Test(testCtx, node)

	latencyTest := &models.LatencyTest{
		NodeID:       node.ID,
		TestStrategy: t.config.Strategy.Name(),
		TestedAt:     time.Now(),
	}
	if err != nil {
		latencyTest.Success = false
		latencyTest.ErrorMessage = err.Error()
	} else {
		latencyTest.Success = true
		latencyTest.LatencyMS = &latencyMS
	}

	// Nodes not yet cached have no id to attach history to.
	if t.recorder != nil && node.ID != 0 {
		if err := t.recorder.RecordLatency(ctx, latencyTest); err != nil {
			t.log.Debug("failed to record latency", "node", node.Name, "error", err)
		}
	}

	return &TestResult{Node: node, Latency: latencyTest}
}

// TestBatch probes nodes concurrently using a semaphore-based worker pool.
func (t *Tester) TestBatch(ctx context.Context, nodes []*models.Node, progress ProgressFunc) *BatchResult {
	return t.TestBatchTimeout(ctx, nodes, t.config.Timeout, progress)
}

// TestBatchTimeout is TestBatch with a per-probe timeout override.
func (t *Tester) TestBatchTimeout(ctx context.Context, nodes []*models.Node, timeout time.Duration, progress ProgressFunc) *BatchResult {
	startTime := time.Now()

	batch := &BatchResult{}
	results := make([]*TestResult, len(nodes))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(t.config.Workers)
	var wg sync.WaitGroup

	for i, node := range nodes {
		wg.Add(1)
		go func(idx int, n *models.Node) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			result := t.test(ctx, n, timeout)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			if result.Latency.Success {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(nodes))
			}
		}(i, node)
	}

	wg.Wait()

	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, r)
			batch.Tested++
		}
	}

	// Successful by delay ascending, failures at the end. Stable so equal
	// delays keep subscription order.
	sort.SliceStable(batch.Results, func(i, j int) bool {
		ri, rj := batch.Results[i].Latency, batch.Results[j].Latency
		if ri.Success != rj.Success {
			return ri.Success
		}
		if ri.Success {
			return *ri.LatencyMS < *rj.LatencyMS
		}
		return false
	})

	batch.Duration = time.Since(startTime)
	return batch
}
