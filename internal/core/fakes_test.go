package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corpvpn/internal/core/xray"
	"corpvpn/internal/storage/models"
)

type fakeProcess struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	terminated atomic.Bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitErr() error        { return nil }

func (p *fakeProcess) Terminate(time.Duration) error {
	p.terminated.Store(true)
	p.exit()
	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

type fakeLauncher struct {
	mu        sync.Mutex
	exists    bool
	exitEarly bool
	startErr  error
	procs     []*fakeProcess
}

func (l *fakeLauncher) Exists() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exists
}

func (l *fakeLauncher) Start(string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, l.startErr
	}
	p := newFakeProcess(1000 + len(l.procs))
	if l.exitEarly {
		p.exit()
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeProxy struct {
	mu         sync.Mutex
	calls      []bool
	addr       string
	failEnable error
}

func (p *fakeProxy) Set(_ context.Context, enabled bool, addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, enabled)
	if enabled {
		p.addr = addr
		return p.failEnable
	}
	return nil
}

func (p *fakeProxy) history() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.calls...)
}

type fakeProfiles struct {
	profile *models.Profile
	err     error
}

func (f *fakeProfiles) Profile(context.Context) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type memStates struct {
	mu sync.Mutex
	st models.AppState
}

func (m *memStates) LoadState() (models.AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *memStates) UpdateState(fn func(*models.AppState)) (models.AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.st)
	return m.st, nil
}

type fakeAutostart struct {
	calls atomic.Int32
	err   error
}

func (a *fakeAutostart) Install(context.Context) error {
	a.calls.Add(1)
	return a.err
}

type fakeJournal struct {
	mu     sync.Mutex
	opened []*models.Session
	closed map[string]uint64
}

func (j *fakeJournal) OpenSession(_ context.Context, s *models.Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.opened = append(j.opened, s)
	return nil
}

func (j *fakeJournal) CloseSession(_ context.Context, id string, _ time.Time, total uint64, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed == nil {
		j.closed = map[string]uint64{}
	}
	j.closed[id] = total
	return nil
}

type fakeQuerier struct {
	mu     sync.Mutex
	totals []uint64
	err    error
}

func (q *fakeQuerier) QueryTotal(context.Context) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	if len(q.totals) == 0 {
		return 0, errors.New("exhausted")
	}
	v := q.totals[0]
	if len(q.totals) > 1 {
		q.totals = q.totals[1:]
	}
	return v, nil
}

type harness struct {
	sup       *Supervisor
	launcher  *fakeLauncher
	proxy     *fakeProxy
	profiles  *fakeProfiles
	states    *memStates
	autostart *fakeAutostart
	journal   *fakeJournal
	artifact  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		launcher:  &fakeLauncher{exists: true},
		proxy:     &fakeProxy{},
		profiles:  &fakeProfiles{profile: &models.Profile{VLESSURI: "vless://abc@vpn.example:443?security=tls"}},
		states:    &memStates{},
		autostart: &fakeAutostart{},
		journal:   &fakeJournal{},
		artifact:  filepath.Join(dir, "active-config.json"),
	}
	cfg := DefaultConfig(h.artifact, xray.DefaultOptions(dir))
	cfg.GraceWait = 10 * time.Millisecond
	h.sup = NewSupervisor(cfg, Deps{
		Launcher:  h.launcher,
		Proxy:     h.proxy,
		Autostart: h.autostart,
		Profiles:  h.profiles,
		States:    h.states,
		Journal:   h.journal,
		Sampler:   NewSampler(&fakeQuerier{totals: []uint64{0}}, time.Hour, nil, nil),
	})
	return h
}
