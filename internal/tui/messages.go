package tui

import (
	"corpvpn/internal/core/types"
	"corpvpn/internal/latency"
	"corpvpn/internal/storage/models"
	"corpvpn/internal/subscription"
)

// Data loading messages.

type nodesLoadedMsg struct {
	nodes   []*models.Node
	latency map[int64]*models.LatencyTest
	err     error
}

type profileLoadedMsg struct {
	profile *models.Profile
	state   models.AppState
	err     error
}

// Connection lifecycle messages.

type connectResultMsg struct {
	err error
}

type disconnectResultMsg struct{}

type tunResultMsg struct {
	enabled bool
	err     error
}

// Status polling messages.

type statusTickMsg struct{}

type statusResultMsg struct {
	status *types.Status
	node   *models.Node
	delay  int
}

// statsMsg carries one throughput sample from the sampler.
type statsMsg struct {
	stats types.Stats
}

// Latency probe messages.

type latencyTestProgressMsg struct {
	result  *latency.TestResult
	current int
	total   int
}

type latencyTestDoneMsg struct {
	batch *latency.BatchResult
}

// Subscription update messages.

type subUpdateResultMsg struct {
	result *subscription.UpdateResult
	err    error
}

// Profile edits.

type profileSavedMsg struct {
	what string
	err  error
}

type clearNotificationMsg struct {
	version int
}
