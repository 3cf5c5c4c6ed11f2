package latency

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"corpvpn/internal/core/xray"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// Strategy defines how a delay probe is performed against a single node.
type Strategy interface {
	// Name returns the strategy identifier ("tcp" or "http").
	Name() string
	// Test probes the node and returns the delay in milliseconds.
	Test(ctx context.Context, node *models.Node) (latencyMS int, err error)
}

// TCPStrategy measures the TCP handshake to the node's address. It only
// verifies reachability, not the proxy protocol.
type TCPStrategy struct{}

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Test(ctx context.Context, node *models.Node) (int, error) {
	address := net.JoinHostPort(node.Address, strconv.Itoa(node.Port))

	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, &pkgerrors.NetworkError{Address: node.Address, Port: node.Port, Err: err}
	}
	elapsed := time.Since(start)
	conn.Close()

	return max(1, int(elapsed.Milliseconds())), nil
}

// NewStrategy creates a Strategy by name. Valid names: "tcp", "http". The
// http strategy needs the core binary and a scratch directory.
func NewStrategy(name string, bin *xray.Binary, scratchDir string) (Strategy, error) {
	switch name {
	case "tcp", "":
		return &TCPStrategy{}, nil
	case "http":
		return NewHTTPStrategy(bin, scratchDir)
	default:
		return nil, fmt.Errorf("unknown test strategy: %s (available: tcp, http)", name)
	}
}
