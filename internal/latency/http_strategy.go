package latency

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"corpvpn/internal/core/xray"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

const httpTestURL = "http://www.gstatic.com/generate_204"

// HTTPStrategy measures delay by starting a throwaway core for the node and
// fetching a 204 page through its HTTP inbound. Slower than TCP but it
// exercises the whole proxy chain.
type HTTPStrategy struct {
	bin        *xray.Binary
	scratchDir string
	testURL    string
}

// NewHTTPStrategy creates a new HTTP strategy.
func NewHTTPStrategy(bin *xray.Binary, scratchDir string) (*HTTPStrategy, error) {
	if bin == nil || !bin.Exists() {
		return nil, fmt.Errorf("http strategy requires the core binary: %w", pkgerrors.ErrBinaryMissing)
	}
	return &HTTPStrategy{bin: bin, scratchDir: scratchDir, testURL: httpTestURL}, nil
}

func (s *HTTPStrategy) Name() string { return "http" }

func (s *HTTPStrategy) Test(ctx context.Context, node *models.Node) (int, error) {
	// Random free ports so parallel probes don't conflict.
	var ports [3]int
	for i := range ports {
		p, err := freePort()
		if err != nil {
			return 0, fmt.Errorf("failed to find free port: %w", err)
		}
		ports[i] = p
	}

	opts := xray.Options{
		SOCKSPort:  ports[0],
		HTTPPort:   ports[1],
		APIPort:    ports[2],
		RuntimeDir: s.scratchDir,
		LogLevel:   "none",
	}
	cfg, err := xray.Synthesize(&models.Profile{VLESSURI: node.URI}, false, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe config: %w", err)
	}

	configPath := filepath.Join(s.scratchDir, fmt.Sprintf("probe_%d.json", ports[1]))
	if err := xray.WriteConfig(configPath, cfg); err != nil {
		return 0, err
	}
	defer os.Remove(configPath)

	proc, err := s.bin.Start(configPath)
	if err != nil {
		return 0, err
	}
	defer proc.Terminate(time.Second)

	addr := opts.ProxyAddr()
	if !waitForPort(ctx, addr, 3*time.Second) {
		return 0, fmt.Errorf("probe core failed to listen on %s", addr)
	}

	proxyURL, _ := url.Parse("http://" + addr)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.testURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return max(1, int(elapsed.Milliseconds())), nil
}

// freePort asks the OS for an available TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort polls addr until it accepts connections, the timeout passes
// or ctx ends.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
