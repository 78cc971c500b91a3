// File: internal/process/manager.go

// Package process spawns, tracks and terminates browser processes exposing a
// remote debugging endpoint, and allocates non-conflicting ports for them.
package process

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

var (
	// ErrSpawn indicates the browser process could not be started or never
	// became ready. No instance is tracked after an ErrSpawn.
	ErrSpawn = errors.New("process: spawn failed")
	// ErrNoPortAvailable indicates the configured port range is exhausted.
	ErrNoPortAvailable = errors.New("process: no port available")
)

// LifecycleState tracks one instance through its life.
type LifecycleState int32

const (
	StateStarting LifecycleState = iota
	StateRunning
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Instance is one running browser process. Instances are owned exclusively by
// the Manager that started them.
type Instance struct {
	Port     int
	Headless bool
	DataDir  string

	proc Process

	mu    sync.Mutex
	state LifecycleState
	// exited is closed by the reaper once the process has been waited on.
	exited chan struct{}
}

// Endpoint returns the debugging endpoint address for this instance.
func (i *Instance) Endpoint() string {
	return fmt.Sprintf("127.0.0.1:%d", i.Port)
}

// State reports the instance's lifecycle state.
func (i *Instance) State() LifecycleState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s LifecycleState) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// StartOptions override the manager's configured defaults for one Start call.
// Zero values fall back to configuration (argument > environment/config file >
// default, the env layer being viper's).
type StartOptions struct {
	PreferredPort int
	RangeStart    int
	RangeEnd      int
	// Headless overrides the configured headless flag when non-nil.
	Headless *bool
}

// Manager tracks the browser instances it started. The port table is the only
// cross-instance shared state and every mutation of it happens under mu.
type Manager struct {
	cfg      config.BrowserConfig
	logger   *zap.Logger
	launcher Launcher

	// probeReady confirms the debugging endpoint answers before Start returns.
	probeReady func(ctx context.Context, port int) error

	mu        sync.Mutex
	instances map[int]*Instance
}

// NewManager creates a Manager using the real Chrome launcher.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     logger.Named("process_manager"),
		launcher:   &ChromeLauncher{ExecPath: cfg.ExecPath},
		probeReady: probeDebugEndpoint,
		instances:  make(map[int]*Instance),
	}
}

// NewManagerWithLauncher creates a Manager with an injected launcher and
// readiness probe. Used by tests and by embedders with exotic browsers.
func NewManagerWithLauncher(cfg config.BrowserConfig, logger *zap.Logger, l Launcher, probe func(context.Context, int) error) *Manager {
	m := NewManager(cfg, logger)
	if l != nil {
		m.launcher = l
	}
	if probe != nil {
		m.probeReady = probe
	}
	return m
}

// Start spawns a browser instance. If the preferred port is taken it probes
// sequentially through the configured range, skipping ports tracked by this
// manager or refused by the OS, until one binds or the range is exhausted.
// It returns only after the debugging endpoint answers the readiness probe.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Instance, error) {
	headless := m.cfg.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}

	port, err := m.reservePort(opts)
	if err != nil {
		return nil, err
	}

	dataDir, err := os.MkdirTemp("", "browserpilot-"+uuid.NewString()[:8]+"-")
	if err != nil {
		m.release(port)
		return nil, fmt.Errorf("%w: creating data dir: %v", ErrSpawn, err)
	}

	inst := &Instance{
		Port:     port,
		Headless: headless,
		DataDir:  dataDir,
		state:    StateStarting,
		exited:   make(chan struct{}),
	}
	m.track(port, inst)

	proc, err := m.launcher.Launch(ctx, LaunchSpec{
		Port:      port,
		DataDir:   dataDir,
		Headless:  headless,
		ExtraArgs: m.cfg.ExtraArgs,
	})
	if err != nil {
		m.release(port)
		os.RemoveAll(dataDir)
		return nil, err
	}
	inst.proc = proc

	// Reap the child whenever it exits so it never lingers as a zombie.
	// An unexpected exit flips the instance to Stopped; it is not restarted.
	go func() {
		err := proc.Wait()
		inst.setState(StateStopped)
		close(inst.exited)
		if err != nil {
			m.logger.Debug("Browser process exited",
				zap.Int("port", port), zap.Error(err))
		}
	}()

	readyCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()
	if err := m.awaitReady(readyCtx, port); err != nil {
		m.logger.Error("Browser never became ready; killing it",
			zap.Int("port", port), zap.Error(err))
		m.release(port)
		inst.terminate(m.cfg.ShutdownGrace)
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("%w: port %d not ready: %v", ErrSpawn, port, err)
	}

	inst.setState(StateRunning)
	m.logger.Info("Browser instance started",
		zap.Int("port", port),
		zap.Int("pid", proc.PID()),
		zap.Bool("headless", headless),
		zap.String("data_dir", dataDir))
	return inst, nil
}

// reservePort picks a free port and claims it in the table under one lock
// hold, so two concurrent Start calls can never race onto the same port.
func (m *Manager) reservePort(opts StartOptions) (int, error) {
	preferred := opts.PreferredPort
	if preferred == 0 {
		preferred = m.cfg.PreferredPort
	}
	rangeStart := opts.RangeStart
	if rangeStart == 0 {
		rangeStart = m.cfg.PortRangeMin
	}
	rangeEnd := opts.RangeEnd
	if rangeEnd == 0 {
		rangeEnd = m.cfg.PortRangeMax
	}

	candidates := make([]int, 0, rangeEnd-rangeStart+2)
	if preferred > 0 {
		candidates = append(candidates, preferred)
	}
	for p := rangeStart; p <= rangeEnd; p++ {
		if p != preferred {
			candidates = append(candidates, p)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, port := range candidates {
		if _, taken := m.instances[port]; taken {
			continue
		}
		if !portFree(port) {
			continue
		}
		// Claim with a placeholder; track() swaps in the real instance.
		m.instances[port] = nil
		return port, nil
	}
	return 0, fmt.Errorf("%w: range [%d, %d] exhausted", ErrNoPortAvailable, rangeStart, rangeEnd)
}

func (m *Manager) track(port int, inst *Instance) {
	m.mu.Lock()
	m.instances[port] = inst
	m.mu.Unlock()
}

func (m *Manager) release(port int) {
	m.mu.Lock()
	delete(m.instances, port)
	m.mu.Unlock()
}

// portFree asks the OS whether the port can be bound right now.
func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

func (m *Manager) awaitReady(ctx context.Context, port int) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := m.probeReady(ctx, port); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeDebugEndpoint confirms the instance's metadata server is answering.
func probeDebugEndpoint(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// Stop terminates the instance on the given port and removes it from
// tracking. Stopping a port that is not tracked is a no-op, not an error.
func (m *Manager) Stop(port int) error {
	m.mu.Lock()
	inst, ok := m.instances[port]
	if ok {
		delete(m.instances, port)
	}
	m.mu.Unlock()

	if !ok || inst == nil {
		return nil
	}

	inst.terminate(m.cfg.ShutdownGrace)
	if inst.DataDir != "" {
		if err := os.RemoveAll(inst.DataDir); err != nil {
			m.logger.Warn("Failed to remove instance data dir",
				zap.String("dir", inst.DataDir), zap.Error(err))
		}
	}
	m.logger.Info("Browser instance stopped", zap.Int("port", port))
	return nil
}

// terminate asks nicely, waits out the grace period, then kills.
func (i *Instance) terminate(grace time.Duration) {
	i.mu.Lock()
	alreadyStopped := i.state == StateStopped
	i.mu.Unlock()
	if alreadyStopped || i.proc == nil {
		return
	}

	_ = i.proc.Terminate()
	select {
	case <-i.exited:
		return
	case <-time.After(grace):
	}

	_ = i.proc.Kill()
	select {
	case <-i.exited:
	case <-time.After(2 * time.Second):
		// The reaper will catch it eventually; nothing more to do here.
	}
}

// StopAll terminates every instance this manager started.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	ports := make([]int, 0, len(m.instances))
	for port := range m.instances {
		ports = append(ports, port)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, port := range ports {
		g.Go(func() error { return m.Stop(port) })
	}
	return g.Wait()
}

// Running returns a lazy, restartable sequence of the ports currently tracked
// as Running. Each iteration snapshots the table at its start.
func (m *Manager) Running() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, port := range m.ListRunning() {
			if !yield(port) {
				return
			}
		}
	}
}

// ListRunning returns the sorted ports of instances currently Running.
// Instances whose process has exited are excluded; the reaper marks them
// Stopped the moment the child dies.
func (m *Manager) ListRunning() []int {
	m.mu.Lock()
	ports := make([]int, 0, len(m.instances))
	for port, inst := range m.instances {
		if inst != nil && inst.State() == StateRunning {
			ports = append(ports, port)
		}
	}
	m.mu.Unlock()
	sort.Ints(ports)
	return ports
}

// Get returns the tracked instance for a port, if any.
func (m *Manager) Get(port int) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[port]
	return inst, ok && inst != nil
}
