package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/nvprime/nvprime/internal/events"
	"github.com/nvprime/nvprime/internal/hardware"
	"github.com/nvprime/nvprime/internal/metrics"
	"github.com/nvprime/nvprime/internal/tuning"
)

type fakeGPU struct {
	mu           sync.Mutex
	defaultLimit uint32
	minLimit     uint32
	maxLimit     uint32
	current      uint32
	applyErr     error
	restoreErr   error
	applied      []tuning.PowerTarget
	restored     []uint32
	defaultReads int
	closed       bool
}

func newFakeGPU() *fakeGPU {
	return &fakeGPU{defaultLimit: 250000, minLimit: 100000, maxLimit: 320000, current: 250000}
}

func (g *fakeGPU) Name() string { return "NVIDIA GeForce RTX 4070 Laptop GPU" }
func (g *fakeGPU) UUID() string { return "GPU-1234" }

func (g *fakeGPU) DefaultPowerLimit() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultReads++
	return g.defaultLimit, nil
}

func (g *fakeGPU) ApplyPowerTarget(t tuning.PowerTarget) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.applied = append(g.applied, t)
	if g.applyErr != nil {
		return 0, g.applyErr
	}
	limit, _ := hardware.ResolvePowerTarget(t, g.minLimit, g.maxLimit)
	g.current = limit
	return limit, nil
}

func (g *fakeGPU) RestorePowerLimit(mw uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restored = append(g.restored, mw)
	if g.restoreErr != nil {
		return g.restoreErr
	}
	g.current = mw
	return nil
}

func (g *fakeGPU) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGPU) calls() (applied []tuning.PowerTarget, restored []uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]tuning.PowerTarget(nil), g.applied...), append([]uint32(nil), g.restored...)
}

func (g *fakeGPU) setRestoreErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restoreErr = err
}

type fakeOpener struct {
	dev *fakeGPU
	err error
}

func (o fakeOpener) Open(string) (hardware.GPUDevice, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.dev, nil
}

type fakeEPP struct {
	mu       sync.Mutex
	profiles []tuning.EPPProfile
	err      error
}

func (e *fakeEPP) SetEPP(p tuning.EPPProfile) (hardware.EPPReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = append(e.profiles, p)
	if e.err != nil {
		return hardware.EPPReport{Failed: 8}, e.err
	}
	return hardware.EPPReport{Applied: 8}, nil
}

func (e *fakeEPP) calls() []tuning.EPPProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tuning.EPPProfile(nil), e.profiles...)
}

func (e *fakeEPP) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

type fakePriority struct {
	mu    sync.Mutex
	nice  map[int]int
	io    map[int]int
	err   error
	ioErr error
}

func newFakePriority() *fakePriority {
	return &fakePriority{nice: map[int]int{}, io: map[int]int{}}
}

func (p *fakePriority) SetPriority(pid, nice int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.nice[pid] = nice
	return nil
}

func (p *fakePriority) SetIOPriority(pid, level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ioErr != nil {
		return p.ioErr
	}
	p.io[pid] = level
	return nil
}

type fakeLiveness struct {
	mu   sync.Mutex
	dead map[int]bool
}

func newFakeLiveness() *fakeLiveness { return &fakeLiveness{dead: map[int]bool{}} }

func (p *fakeLiveness) IsAlive(_ context.Context, pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead[pid]
}

func (p *fakeLiveness) kill(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead[pid] = true
}

type restoreCall struct {
	trigger metrics.Trigger
	result  metrics.ResultLabel
}

type fakeRecorder struct {
	mu           sync.Mutex
	applies      []metrics.ResultLabel
	restores     []restoreCall
	softFailures []string
	watchdogs    int
	activePIDs   int
}

func (r *fakeRecorder) IncApply(result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies = append(r.applies, result)
}

func (r *fakeRecorder) ObserveApplyDuration(time.Duration) {}

func (r *fakeRecorder) IncRestore(trigger metrics.Trigger, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restores = append(r.restores, restoreCall{trigger, result})
}

func (r *fakeRecorder) IncSoftFailure(adapter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.softFailures = append(r.softFailures, adapter)
}

func (r *fakeRecorder) IncWatchdogStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchdogs++
}

func (r *fakeRecorder) SetActivePIDs(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePIDs = n
}

func (r *fakeRecorder) restoreCalls() []restoreCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]restoreCall(nil), r.restores...)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *fakeEmitter) Emit(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Type, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

// fixture is a State with a GPU and fake adapters.
type fixture struct {
	gpu   *fakeGPU
	epp   *fakeEPP
	prio  *fakePriority
	state *State
}

func newFixture(withGPU bool) *fixture {
	f := &fixture{gpu: newFakeGPU(), epp: &fakeEPP{}, prio: newFakePriority()}
	f.state = NewState(f.epp, f.prio)
	if withGPU {
		if err := f.state.InitGPU(fakeOpener{dev: f.gpu}, ""); err != nil {
			panic(err)
		}
	}
	return f
}

func fullRequest(id string, pid int) tuning.Request {
	return tuning.Request{
		ID:      id,
		Version: tuning.ProtocolVersion,
		PID:     pid,
		Config: tuning.Config{
			CPU: tuning.CPUConfig{Enabled: true, EPPTune: tuning.EPPPerformance, EPPBase: tuning.EPPBalancePerformance},
			GPU: tuning.GPUConfig{Enabled: true, SetMax: true},
		},
	}
}
