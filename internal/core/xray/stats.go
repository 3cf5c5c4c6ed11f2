package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	statscommand "github.com/xtls/xray-core/app/stats/command"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pkgerrors "corpvpn/pkg/errors"
)

// Counter names of the proxy outbound.
const (
	proxyUplink   = "outbound>>>proxy>>>traffic>>>uplink"
	proxyDownlink = "outbound>>>proxy>>>traffic>>>downlink"
	proxyPattern  = "outbound>>>proxy>>>traffic>>>"

	// DefaultStatsTimeout bounds a single counter query.
	DefaultStatsTimeout = 4 * time.Second
)

// Stats backends.
const (
	StatsBackendCLI  = "cli"
	StatsBackendGRPC = "grpc"
)

// StatsQuerier returns the cumulative bytes moved through the proxy
// outbound, uplink plus downlink.
type StatsQuerier interface {
	QueryTotal(ctx context.Context) (uint64, error)
}

// NewStatsQuerier returns the querier for backend ("cli" or "grpc").
func NewStatsQuerier(backend, binaryPath, apiAddr string, timeout time.Duration) (StatsQuerier, error) {
	if timeout <= 0 {
		timeout = DefaultStatsTimeout
	}
	switch backend {
	case StatsBackendCLI, "":
		return &CLIStats{BinaryPath: binaryPath, Server: apiAddr, Timeout: timeout}, nil
	case StatsBackendGRPC:
		return &GRPCStats{Addr: apiAddr, Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown stats backend: %s (available: cli, grpc)", backend)
	}
}

// CLIStats queries counters through `xray api statsquery`.
type CLIStats struct {
	BinaryPath string
	Server     string
	Timeout    time.Duration
}

func (c *CLIStats) QueryTotal(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.BinaryPath, "api", "statsquery", "--server", c.Server)
	cmd.SysProcAttr = hiddenProcAttr()
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", pkgerrors.ErrStatsQueryFailed, err)
	}
	if len(strings.TrimSpace(string(output))) == 0 {
		return 0, fmt.Errorf("%w: empty output", pkgerrors.ErrStatsQueryFailed)
	}

	up, down, ok := parseStatsOutput(string(output))
	if !ok {
		return 0, fmt.Errorf("%w: unrecognized output", pkgerrors.ErrStatsQueryFailed)
	}
	return up + down, nil
}

var trafficLine = regexp.MustCompile(`outbound>>>proxy>>>traffic>>>(uplink|downlink)\s*[:=]\s*(\d+)`)

// parseStatsOutput extracts the proxy counters. It accepts `name: value`
// lines, the JSON form {"stat":[{"name":..,"value":..}]} and the older
// multi-line text form with separate name:/value: lines. ok is false when
// the output matches none of them.
func parseStatsOutput(output string) (upload, download uint64, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		m := trafficLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ok = true
		val, _ := strconv.ParseUint(m[2], 10, 64)
		if m[1] == "uplink" {
			upload = val
		} else {
			download = val
		}
	}
	if ok {
		return upload, download, true
	}

	var result struct {
		Stat *[]struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		} `json:"stat"`
	}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return parseStatsLines(output)
	}
	// An empty stat list is a real zero; a JSON document without one is not
	// statsquery output.
	if result.Stat == nil {
		return 0, 0, false
	}
	for _, s := range *result.Stat {
		val, _ := strconv.ParseUint(strings.Trim(string(s.Value), `"`), 10, 64)
		switch s.Name {
		case proxyUplink:
			upload = val
		case proxyDownlink:
			download = val
		}
	}
	return upload, download, true
}

// parseStatsLines handles the line-by-line output format. ok is set once a
// value: line follows a name: line.
func parseStatsLines(output string) (upload, download uint64, ok bool) {
	var currentName string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "name:"):
			currentName = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "name:")), `"`)
		case strings.HasPrefix(line, "value:"):
			if currentName == "" {
				continue
			}
			val, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "value:")), 10, 64)
			if err != nil {
				continue
			}
			ok = true
			switch currentName {
			case proxyUplink:
				upload = val
			case proxyDownlink:
				download = val
			}
			currentName = ""
		}
	}
	return upload, download, ok
}

// GRPCStats queries the StatsService directly over gRPC.
type GRPCStats struct {
	Addr    string
	Timeout time.Duration
}

func (g *GRPCStats) QueryTotal(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	conn, err := grpc.NewClient(g.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", pkgerrors.ErrStatsQueryFailed, err)
	}
	defer conn.Close()

	client := statscommand.NewStatsServiceClient(conn)
	resp, err := client.QueryStats(ctx, &statscommand.QueryStatsRequest{Pattern: proxyPattern})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", pkgerrors.ErrStatsQueryFailed, err)
	}

	var total uint64
	for _, stat := range resp.GetStat() {
		switch stat.GetName() {
		case proxyUplink, proxyDownlink:
			if v := stat.GetValue(); v > 0 {
				total += uint64(v)
			}
		}
	}
	return total, nil
}
