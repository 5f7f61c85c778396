// Package supervisor restarts platform adapters after their connection drops.
//
// Each adapter implements Session: one Run call is one connection attempt
// that returns when the transport closes. The Supervisor loops over Run with
// a fixed per-platform delay, refreshing credentials first for platforms
// that have them, and halts only when the session reports it cannot
// continue without new authorization.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/metrics"
)

var (
	// ErrNonRetryable marks a failure that reconnecting cannot fix
	ErrNonRetryable = errors.New("non-retryable adapter failure")

	// ErrNotAuthorized means the adapter holds no access token yet
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAuthFailed means the platform rejected the current access token.
	// The supervisor still reconnects, but warns when no refresh succeeds
	// since the next attempt will present the same token.
	ErrAuthFailed = errors.New("authentication failed")
)

// Sink receives normalized events
type Sink func(message.ChatEvent)

// Session is one platform adapter. Run performs a single connection
// attempt and pushes every normalized event to emit before reading more input.
type Session interface {
	Platform() message.Platform
	Run(ctx context.Context, emit Sink) error
}

// Refresher renews credentials between attempts
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Policy is the fixed reconnect delay of one platform
type Policy struct {
	Delay        time.Duration // Wait before reconnecting
	AfterRefresh time.Duration // Wait after a successful credential refresh
}

// Policies is the restart table per platform
var Policies = map[message.Platform]Policy{
	message.Twitch:   {Delay: 10 * time.Second, AfterRefresh: time.Second},
	message.Joystick: {Delay: 10 * time.Second, AfterRefresh: time.Second},
	message.Kick:     {Delay: 5 * time.Second},
	message.YouTube:  {Delay: 10 * time.Second},
}

// Supervisor keeps one Session running
type Supervisor struct {
	session   Session
	policy    Policy
	refresher Refresher
	log       *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	sink Sink

	running    atomic.Bool
	noticeOnce sync.Once
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithRefresher makes the supervisor refresh credentials before each reconnect
func WithRefresher(r Refresher) Option {
	return func(s *Supervisor) { s.refresher = r }
}

// WithSleep replaces the delay function; tests use it to skip real waits
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// New wraps session with the given restart policy
func New(session Session, policy Policy, opts ...Option) *Supervisor {
	s := &Supervisor{
		session: session,
		policy:  policy,
		log:     slog.Default().With("platform", string(session.Platform())),
		sleep:   Sleep,
		sink:    func(message.ChatEvent) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platform returns the supervised platform
func (s *Supervisor) Platform() message.Platform {
	return s.session.Platform()
}

// OnEvent registers the sink that receives normalized events
func (s *Supervisor) OnEvent(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Running reports whether the restart loop is active
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Start launches the restart loop in the background. It returns false if
// the loop is already running.
func (s *Supervisor) Start(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.running.Store(false)
		_ = s.loop(ctx)
	}()
	return true
}

// Run runs the restart loop in the caller's goroutine until ctx is done or
// the session reports a condition that reconnecting cannot fix.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer s.running.Store(false)
	return s.loop(ctx)
}

func (s *Supervisor) loop(ctx context.Context) error {
	for {
		err := s.session.Run(ctx, s.emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case errors.Is(err, ErrNotAuthorized):
			s.noticeOnce.Do(func() {
				s.log.Info("no access token, waiting for authorization", "error", err)
			})
			return err
		case errors.Is(err, ErrNonRetryable):
			s.log.Error("adapter stopped, re-authorization required", "error", err)
			return err
		}

		platform := string(s.session.Platform())
		metrics.Reconnects.WithLabelValues(platform).Inc()
		authFailed := errors.Is(err, ErrAuthFailed)
		if authFailed {
			metrics.AuthFailures.WithLabelValues(platform).Inc()
		}

		delay := s.policy.Delay
		refreshed := false
		if s.refresher != nil {
			if rerr := s.refresher.Refresh(ctx); rerr == nil {
				delay = s.policy.AfterRefresh
				refreshed = true
			}
		}

		if authFailed && !refreshed {
			s.log.Warn("access token rejected and not refreshed, reconnecting with the same token", "error", err, "delay", delay)
		} else {
			s.log.Info("disconnected, reconnecting", "error", err, "delay", delay)
		}

		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) emit(ev message.ChatEvent) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	sink(ev)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
