package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/nagare/internal/model"
)

// State is the supervisor's connection state machine position.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
)

// Supervisor owns the lifecycle of the live transport connection:
// IDLE → CONNECTING → CONNECTED → (on error) DISCONNECTED → (after the
// policy's delay) → CONNECTING. Transport errors are never fatal — they
// surface only as connectivity changes.
type Supervisor struct {
	transport Transport
	policy    ReconnectPolicy
	logger    *slog.Logger

	// onMessage receives each raw event payload. onConnectivity receives
	// state changes; both are invoked from the supervisor goroutine.
	onMessage      func(data []byte)
	onConnectivity func(c model.Connectivity)

	mu       sync.RWMutex
	state    State
	attempts int
}

// NewSupervisor wires a supervisor. policy may be nil for the default
// jittered exponential backoff.
func NewSupervisor(transport Transport, policy ReconnectPolicy, logger *slog.Logger, onMessage func([]byte), onConnectivity func(model.Connectivity)) *Supervisor {
	if policy == nil {
		policy = NewExponentialPolicy(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		transport:      transport,
		policy:         policy,
		logger:         logger,
		onMessage:      onMessage,
		onConnectivity: onConnectivity,
		state:          StateIdle,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempts returns the consecutive failed connection attempts since the
// last successful connect.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Run connects and re-connects until ctx is cancelled. It blocks; run it in
// a goroutine. On return the state is IDLE. The error is always nil — it
// exists so Run slots directly into an errgroup.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateConnecting)

		conn, err := s.transport.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.disconnected(err)
			if !s.wait(ctx) {
				return nil
			}
			continue
		}

		s.connected()
		s.recvLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		if !s.wait(ctx) {
			return nil
		}
	}
}

// recvLoop drains one connection until it dies or ctx is cancelled.
func (s *Supervisor) recvLoop(ctx context.Context, conn Conn) {
	// Close the connection when ctx is cancelled so a blocked Recv unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		data, err := conn.Recv()
		if err != nil {
			if ctx.Err() == nil {
				s.disconnected(err)
			}
			return
		}
		s.onMessage(data)
	}
}

func (s *Supervisor) connected() {
	s.mu.Lock()
	s.state = StateConnected
	s.attempts = 0
	s.mu.Unlock()

	s.policy.Reset()
	s.logger.Info("stream: connected", "transport", s.transport.Name())
	s.onConnectivity(model.Connectivity{State: model.ConnConnected})
}

func (s *Supervisor) disconnected(err error) {
	s.mu.Lock()
	s.state = StateDisconnected
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	s.logger.Warn("stream: disconnected", "transport", s.transport.Name(), "attempt", attempts, "error", err)
	s.onConnectivity(model.Connectivity{State: model.ConnDisconnected, ReconnectAttempt: attempts})
}

// wait sleeps for the policy's delay. Returns false when ctx was cancelled
// during the wait.
func (s *Supervisor) wait(ctx context.Context) bool {
	delay := s.policy.NextDelay(s.Attempts())
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
