// Package supervisor owns the lifecycle of the push channel and the poll
// timers. The push connection is a state machine over disconnected,
// connecting and connected; polling runs on fixed intervals regardless of
// push state, because both paths feed the same deduplicating ledger; the
// redundancy is deliberate.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"chatsync/internal/engine"
	"chatsync/internal/observability"
	"chatsync/internal/rest"
	"chatsync/internal/telemetry"
	"chatsync/internal/transport"
)

// State is the push channel connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Intervals configures the timers. Zero values fall back to the platform
// defaults (conversation list 15s, active messages 5s, heartbeat 30s).
type Intervals struct {
	Conversations time.Duration
	Messages      time.Duration
	Heartbeat     time.Duration
}

func (i Intervals) withDefaults() Intervals {
	if i.Conversations <= 0 {
		i.Conversations = 15 * time.Second
	}
	if i.Messages <= 0 {
		i.Messages = 5 * time.Second
	}
	if i.Heartbeat <= 0 {
		i.Heartbeat = 30 * time.Second
	}
	return i
}

// Supervisor drives one engine from a push transport and the poll timers.
type Supervisor struct {
	engine    *engine.Synchronizer
	push      transport.Push
	audit     *telemetry.AuditEmitter
	userID    string
	intervals Intervals

	mu         sync.Mutex
	state      State
	token      string
	tokenValid bool
	started    bool
	cancel     context.CancelFunc
	generation uint64

	// kick wakes the connect loop; buffered so signalling never blocks.
	kick chan struct{}
	wg   sync.WaitGroup
}

// New builds a supervisor. The token is the initial bearer credential;
// token refresh is external and arrives via SetToken.
func New(eng *engine.Synchronizer, push transport.Push, audit *telemetry.AuditEmitter, userID, token string, intervals Intervals) *Supervisor {
	return &Supervisor{
		engine:     eng,
		push:       push,
		audit:      audit,
		userID:     userID,
		intervals:  intervals.withDefaults(),
		token:      token,
		tokenValid: token != "",
		kick:       make(chan struct{}, 1),
	}
}

// State returns the current push channel state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start bootstraps the engine and launches the connect loop and poll
// timers. Calling Start twice is an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.engine.Bootstrap(runCtx); err != nil {
		log.Printf("bootstrap failed, poll will retry: %v", err)
	}

	s.wg.Add(4)
	go s.connectLoop(runCtx)
	go s.pollLoop(runCtx, s.intervals.Conversations, s.engine.SyncConversations)
	go s.pollLoop(runCtx, s.intervals.Messages, s.engine.SyncActiveMessages)
	go s.heartbeatLoop(runCtx)

	s.requestConnect()
	return nil
}

// Stop tears everything down synchronously: timers stop, the transport is
// closed and the callback generation is bumped, so stale callbacks become
// no-ops before Stop returns.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.generation++
	cancel := s.cancel
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.push.Close()
	s.wg.Wait()
	observability.SetPushConnected(false)
	s.audit.Emit(context.Background(), "push_teardown", "", s.userID)
}

// SetToken installs a fresh bearer credential and re-enables connecting.
func (s *Supervisor) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.tokenValid = token != ""
	s.mu.Unlock()
	s.requestConnect()
}

// TokenInvalid reacts to an external invalid-credential signal: the push
// channel is torn down and reconnects are refused until SetToken.
func (s *Supervisor) TokenInvalid() {
	s.mu.Lock()
	s.tokenValid = false
	s.generation++
	s.state = StateDisconnected
	s.mu.Unlock()

	_ = s.push.Close()
	observability.SetPushConnected(false)
	log.Printf("token invalid, push channel halted until a new token is supplied")
	s.audit.Emit(context.Background(), "token_invalid", "", s.userID)
}

func (s *Supervisor) requestConnect() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// connectLoop serializes connection attempts: one attempt at a time, with
// exponential backoff between failures, reset on success.
func (s *Supervisor) connectLoop(ctx context.Context) {
	defer s.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		for {
			if ctx.Err() != nil {
				return
			}
			if s.Connect(ctx) {
				policy.Reset()
				break
			}
			s.mu.Lock()
			halted := !s.tokenValid
			s.mu.Unlock()
			if halted {
				break
			}
			wait := policy.NextBackOff()
			observability.IncPushReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// Connect performs a single handshake attempt. A call while already
// connecting or connected is a no-op; a call with an invalidated token is
// refused. Returns whether the channel is connected afterwards.
func (s *Supervisor) Connect(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateDisconnected {
		connected := s.state == StateConnected
		s.mu.Unlock()
		return connected
	}
	if !s.tokenValid {
		s.mu.Unlock()
		return false
	}
	s.state = StateConnecting
	token := s.token
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	handshakeCtx, span := otel.Tracer("chatsync/supervisor").Start(ctx, "push.handshake")
	err := s.push.Connect(handshakeCtx, token, transport.Handler{
		OnFrame: func(raw []byte) {
			if s.liveGeneration(generation) {
				s.engine.ApplyPush(raw)
			}
		},
		OnClosed: func(cause error) {
			s.onClosed(generation, cause)
		},
	})
	span.End()

	s.mu.Lock()
	if s.generation != generation {
		// Torn down while the handshake was in flight; the connection
		// that just came up must not outlive the teardown.
		s.mu.Unlock()
		if err == nil {
			_ = s.push.Close()
		}
		return false
	}
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		log.Printf("push connect failed: %v", err)
		return false
	}
	s.state = StateConnected
	s.mu.Unlock()

	observability.SetPushConnected(true)
	s.audit.Emit(context.Background(), "push_connected", "", s.userID)
	return true
}

func (s *Supervisor) liveGeneration(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == generation
}

func (s *Supervisor) onClosed(generation uint64, cause error) {
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	observability.SetPushConnected(false)
	if cause != nil {
		log.Printf("push channel closed: %v", cause)
	}
	s.audit.Emit(context.Background(), "push_disconnected", errText(cause), s.userID)
	s.requestConnect()
}

// pollLoop runs one poll concern on a fixed interval. Poll failures are
// soft: logged, counted and retried next tick, never fatal. The one
// exception is an unauthorized response, which halts the push channel too.
func (s *Supervisor) pollLoop(ctx context.Context, interval time.Duration, sync func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, span := otel.Tracer("chatsync/supervisor").Start(ctx, "poll.cycle")
			err := sync(cycleCtx)
			span.End()
			if errors.Is(err, rest.ErrUnauthorized) {
				s.TokenInvalid()
			} else if err != nil {
				log.Printf("poll failed: %v", err)
			}
		}
	}
}

// heartbeatLoop signals liveness on a fixed interval. Fire-and-forget.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.intervals.Heartbeat)
	defer ticker.Stop()

	s.engine.Heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.Heartbeat(ctx)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
