package latency

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corpvpn/internal/storage/models"
)

// scriptedStrategy returns a fixed delay per node name; a negative delay
// fails the probe.
type scriptedStrategy struct {
	delays   map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Test(ctx context.Context, node *models.Node) (int, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	d := s.delays[node.Name]
	if d < 0 {
		return 0, errors.New("connection refused")
	}
	return d, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []*models.LatencyTest
}

func (m *memRecorder) RecordLatency(_ context.Context, lt *models.LatencyTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, lt)
	return nil
}

func nodes(names ...string) []*models.Node {
	out := make([]*models.Node, len(names))
	for i, n := range names {
		out[i] = &models.Node{ID: int64(i + 1), Name: n, Address: n + ".example", Port: 443}
	}
	return out
}

func TestBatchPicksLeastDelay(t *testing.T) {
	strategy := &scriptedStrategy{delays: map[string]int{"a": 120, "b": 35, "c": -1, "d": 80}}
	rec := &memRecorder{}
	tester := NewTester(rec, TesterConfig{Workers: 2, Strategy: strategy}, nil)

	batch := tester.TestBatch(context.Background(), nodes("a", "b", "c", "d"), nil)

	if batch.Tested != 4 || batch.Succeeded != 3 || batch.Failed != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	best := batch.Best()
	if best == nil || best.Node.Name != "b" || best.DelayMS() != 35 {
		t.Fatalf("best = %+v", best)
	}
	var order []string
	for _, r := range batch.Results {
		order = append(order, r.Node.Name)
	}
	if want := []string{"b", "d", "a", "c"}; !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if len(rec.records) != 4 {
		t.Fatalf("recorded %d results", len(rec.records))
	}
	if peak := strategy.peak.Load(); peak > 2 {
		t.Fatalf("%d probes ran concurrently with 2 workers", peak)
	}
}

func TestBatchAllFailed(t *testing.T) {
	strategy := &scriptedStrategy{delays: map[string]int{"a": -1, "b": -1}}
	tester := NewTester(nil, TesterConfig{Strategy: strategy}, nil)

	batch := tester.TestBatch(context.Background(), nodes("a", "b"), nil)
	if batch.Best() != nil {
		t.Fatalf("Best() = %+v, want nil", batch.Best())
	}
	if (&BatchResult{}).Best() != nil {
		t.Fatal("empty batch has a best result")
	}
}

func TestBatchProgress(t *testing.T) {
	strategy := &scriptedStrategy{delays: map[string]int{"a": 1, "b": 2, "c": 3}}
	tester := NewTester(nil, TesterConfig{Strategy: strategy}, nil)

	var calls atomic.Int32
	tester.TestBatch(context.Background(), nodes("a", "b", "c"), func(_ *TestResult, current, total int) {
		calls.Add(1)
		if total != 3 || current < 1 || current > 3 {
			t.Errorf("progress(%d, %d)", current, total)
		}
	})
	if calls.Load() != 3 {
		t.Fatalf("progress called %d times", calls.Load())
	}
}

func TestTCPStrategy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	tester := NewTester(nil, TesterConfig{Timeout: time.Second}, nil)

	ok := tester.TestSingle(context.Background(), &models.Node{Name: "up", Address: "127.0.0.1", Port: port})
	if !ok.Latency.Success || ok.DelayMS() < 1 {
		t.Fatalf("probe of listening port = %+v", ok.Latency)
	}

	// Grab a port and release it so nothing listens there.
	dead, _ := net.Listen("tcp", "127.0.0.1:0")
	deadPort := dead.Addr().(*net.TCPAddr).Port
	dead.Close()

	fail := tester.TestSingle(context.Background(), &models.Node{Name: "down", Address: "127.0.0.1", Port: deadPort})
	if fail.Latency.Success || fail.DelayMS() != -1 || fail.Latency.ErrorMessage == "" {
		t.Fatalf("probe of closed port = %+v", fail.Latency)
	}
}

func TestNewStrategy(t *testing.T) {
	if s, err := NewStrategy("", nil, ""); err != nil || s.Name() != "tcp" {
		t.Fatalf("default strategy = %v, %v", s, err)
	}
	if _, err := NewStrategy("http", nil, ""); err == nil {
		t.Fatal("http strategy without binary succeeded")
	}
	if _, err := NewStrategy("icmp", nil, ""); err == nil {
		t.Fatal("unknown strategy accepted")
	}
}
