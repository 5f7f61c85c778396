package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/john/multichat/internal/message"
)

// scriptedSession returns the queued errors one per Run call, emitting one
// event per attempt, and blocks on ctx once the script runs out.
type scriptedSession struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedSession) Platform() message.Platform { return message.Twitch }

func (s *scriptedSession) Run(ctx context.Context, emit Sink) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	var err error
	more := len(s.errs) > 0
	if more {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()

	emit(message.ChatEvent{Platform: message.Twitch, Username: "u", Message: fmt.Sprintf("attempt %d", call)})
	if !more {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *scriptedSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRefresher struct {
	results []error
	calls   int
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	if len(f.results) == 0 {
		return errors.New("no more results")
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestSupervisor_DelayDependsOnRefresh(t *testing.T) {
	req := require.New(t)
	session := &scriptedSession{errs: []error{
		errors.New("connection reset"),
		fmt.Errorf("login rejected: %w", ErrAuthFailed),
		errors.New("eof"),
	}}
	refresher := &fakeRefresher{results: []error{nil, errors.New("bad refresh token"), nil}}
	sleeps := &sleepRecorder{}

	sup := New(session, Policies[message.Twitch], WithRefresher(refresher), WithSleep(sleeps.sleep))

	var mu sync.Mutex
	var got []string
	sup.OnEvent(func(ev message.ChatEvent) {
		mu.Lock()
		got = append(got, ev.Message)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	req.Eventually(func() bool { return session.Calls() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	req.ErrorIs(<-done, context.Canceled)

	req.Equal([]time.Duration{time.Second, 10 * time.Second, time.Second}, sleeps.Delays())
	req.Equal(3, refresher.calls)

	mu.Lock()
	defer mu.Unlock()
	req.Equal([]string{"attempt 1", "attempt 2", "attempt 3", "attempt 4"}, got)
}

func TestSupervisor_WarnsWhenRejectedTokenIsNotRefreshed(t *testing.T) {
	req := require.New(t)
	session := &scriptedSession{errs: []error{
		fmt.Errorf("login rejected: %w", ErrAuthFailed),
		fmt.Errorf("login rejected: %w", ErrAuthFailed),
		errors.New("eof"),
	}}
	refresher := &fakeRefresher{results: []error{errors.New("bad refresh token"), nil, errors.New("bad refresh token")}}
	sleeps := &sleepRecorder{}

	sup := New(session, Policies[message.Twitch], WithRefresher(refresher), WithSleep(sleeps.sleep))
	var logs bytes.Buffer
	sup.log = slog.New(slog.NewTextHandler(&logs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	req.Eventually(func() bool { return session.Calls() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	req.ErrorIs(<-done, context.Canceled)

	out := logs.String()
	req.Equal(1, strings.Count(out, "access token rejected and not refreshed"))
	req.Equal(2, strings.Count(out, "disconnected, reconnecting"))
	req.Equal([]time.Duration{10 * time.Second, time.Second, 10 * time.Second}, sleeps.Delays())
}

func TestSupervisor_NoRefresherUsesFixedDelay(t *testing.T) {
	req := require.New(t)
	session := &scriptedSession{errs: []error{errors.New("closed"), errors.New("closed")}}
	sleeps := &sleepRecorder{}

	sup := New(session, Policies[message.Kick], WithSleep(sleeps.sleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req.True(sup.Start(ctx))

	req.Eventually(func() bool { return session.Calls() == 3 }, time.Second, 5*time.Millisecond)
	req.Equal([]time.Duration{5 * time.Second, 5 * time.Second}, sleeps.Delays())
	req.True(sup.Running())
	req.False(sup.Start(ctx))
}

func TestSupervisor_HaltsOnNonRetryable(t *testing.T) {
	req := require.New(t)
	session := &scriptedSession{errs: []error{fmt.Errorf("subscription rejected: %w", ErrNonRetryable)}}
	refresher := &fakeRefresher{}

	sup := New(session, Policies[message.Joystick], WithRefresher(refresher), WithSleep(func(context.Context, time.Duration) error {
		t.Fatal("must not sleep")
		return nil
	}))

	err := sup.Run(context.Background())
	req.ErrorIs(err, ErrNonRetryable)
	req.Equal(1, session.Calls())
	req.Zero(refresher.calls)
	req.False(sup.Running())
}

func TestSupervisor_NotAuthorizedCanBeRestarted(t *testing.T) {
	req := require.New(t)
	session := &scriptedSession{errs: []error{
		fmt.Errorf("%w: visit http://localhost/twitch/auth", ErrNotAuthorized),
		fmt.Errorf("%w: visit http://localhost/twitch/auth", ErrNotAuthorized),
	}}

	sup := New(session, Policies[message.Twitch])
	req.ErrorIs(sup.Run(context.Background()), ErrNotAuthorized)

	// Authorization arrives out of band and starts the adapter again.
	req.ErrorIs(sup.Run(context.Background()), ErrNotAuthorized)
	req.Equal(2, session.Calls())
}

func TestSleep(t *testing.T) {
	req := require.New(t)

	req.NoError(Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.ErrorIs(Sleep(ctx, time.Hour), context.Canceled)
}
