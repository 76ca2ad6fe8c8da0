package relay

import (
	"sync"
	"time"
)

type HeartbeatState int

const (
	Alive HeartbeatState = iota
	AwaitingPong
	Dead
)

func (s HeartbeatState) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case AwaitingPong:
		return "AWAITING_PONG"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Heartbeat probes a peer every interval and declares it dead when a probe goes
// unanswered for timeout. The probe timer keeps its own cadence; acknowledgments
// only cancel the pending timeout.
type Heartbeat struct {
	mu         sync.Mutex
	state      HeartbeatState
	stopped    bool
	generation uint64

	interval time.Duration
	timeout  time.Duration
	probe    func() error
	onDead   func()

	probeTimer   *time.Timer
	timeoutTimer *time.Timer
}

func NewHeartbeat(interval, timeout time.Duration, probe func() error, onDead func()) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		onDead:   onDead,
	}
}

func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.probeTimer != nil {
		return
	}
	h.probeTimer = time.AfterFunc(h.interval, h.tick)
}

func (h *Heartbeat) tick() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.probeTimer.Reset(h.interval)
	if h.state != Alive {
		h.mu.Unlock()
		return
	}
	h.state = AwaitingPong
	h.generation++
	generation := h.generation
	h.timeoutTimer = time.AfterFunc(h.timeout, func() { h.expire(generation) })
	h.mu.Unlock()

	// a failed probe is left to the timeout
	_ = h.probe()
}

func (h *Heartbeat) expire(generation uint64) {
	h.mu.Lock()
	if h.stopped || generation != h.generation || h.state != AwaitingPong {
		h.mu.Unlock()
		return
	}
	h.state = Dead
	h.stopped = true
	h.probeTimer.Stop()
	h.mu.Unlock()

	h.onDead()
}

// Ack records a liveness acknowledgment from the peer.
func (h *Heartbeat) Ack() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.state != AwaitingPong {
		return
	}
	h.state = Alive
	h.generation++
	if h.timeoutTimer != nil {
		h.timeoutTimer.Stop()
	}
}

// Stop cancels both timers. Callbacks that already fired become no-ops.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.generation++
	if h.probeTimer != nil {
		h.probeTimer.Stop()
	}
	if h.timeoutTimer != nil {
		h.timeoutTimer.Stop()
	}
}

func (h *Heartbeat) State() HeartbeatState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
