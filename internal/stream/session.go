// Package stream owns the live event-stream connection of one job and its
// reconnect policy.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/onboard-go/internal/client"
	"github.com/raphaelgruber/onboard-go/internal/metrics"
)

// Reconnect defaults.
const (
	DefaultMaxRetries = 3
	// NoReconnect as Options.MaxRetries gives up on the first drop.
	NoReconnect = -1
	DefaultRetryDelay = 2 * time.Second
)

// ErrConnectionLost is reported once reconnects are exhausted.
// The job may still be running server-side.
var ErrConnectionLost = errors.New("stream connection lost")

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source yields raw stream messages until it fails or ends.
type Source interface {
	Next() (client.Message, error)
	Close() error
}

// Opener connects a Source for a job.
type Opener func(ctx context.Context, jobID string) (Source, error)

// Handlers receive session events. Complete, Failed and Lost are terminal:
// the session is already closed when they run, and at most one of them fires.
type Handlers struct {
	Progress func(message string)
	Complete func(profile client.ProfileDocument, message string)
	Failed   func(message string)
	Lost     func(err error)
}

// Options configures reconnect behaviour.
type Options struct {
	// MaxRetries is the number of reconnects per session. Zero means
	// DefaultMaxRetries; a negative value disables reconnects.
	MaxRetries int
	// RetryDelay is the linear backoff unit: reconnect N waits N*RetryDelay.
	RetryDelay time.Duration
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Session observes the event stream of one job.
type Session struct {
	jobID    string
	open     Opener
	handlers Handlers

	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Collector
	logger     *slog.Logger
	afterFunc  func(d time.Duration, f func()) *time.Timer

	mu       sync.Mutex
	state    State
	attempts int
	ctx      context.Context
	cancel   context.CancelFunc
	src      Source
	timer    *time.Timer
}

// New creates an idle session for jobID.
func New(jobID string, open Opener, h Handlers, opts Options) *Session {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		jobID:      jobID,
		open:       open,
		handlers:   h,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("job_id", jobID),
		afterFunc:  time.AfterFunc,
	}
}

// JobID returns the job this session observes.
func (s *Session) JobID() string {
	return s.jobID
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open starts connecting in the background. It has no effect unless the session is idle.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateConnecting
	go s.connect()
}

// Close cancels any pending reconnect and releases the connection.
// Events read after Close are dropped, though a handler already running may
// still finish. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	src := s.shutdown()
	s.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
}

// shutdown moves to Closed and returns the source to release. Caller must hold mu.
func (s *Session) shutdown() Source {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	src := s.src
	s.src = nil
	return src
}

// closedLocked reports whether the session was closed. Caller must hold mu.
func (s *Session) closedLocked() bool {
	return s.state == StateClosed
}

func (s *Session) connect() {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.state = StateConnecting
	s.mu.Unlock()

	src, err := s.open(ctx, s.jobID)

	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		if src != nil {
			_ = src.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.dropped(err)
		return
	}
	s.src = src
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Debug("stream connected")
	s.read(src)
}

// read consumes one connection until it ends or a terminal event arrives.
func (s *Session) read(src Source) {
	for {
		msg, err := src.Next()
		if err != nil {
			_ = src.Close()
			s.dropped(err)
			return
		}

		ev, err := client.ParseStreamEvent([]byte(msg.Data))
		if err != nil {
			s.logger.Warn("ignoring malformed stream message", "data", msg.Data, "error", err)
			continue
		}

		switch ev.Kind {
		case client.KindProgress:
			if !s.live() {
				return
			}
			if s.handlers.Progress != nil {
				s.handlers.Progress(ev.Message)
			}
		case client.KindComplete:
			if !s.finish() {
				return
			}
			s.logger.Info("job completed")
			if s.handlers.Complete != nil {
				s.handlers.Complete(ev.Profile, ev.Message)
			}
			return
		case client.KindError:
			if !s.finish() {
				return
			}
			s.logger.Info("job failed", "message", ev.Message)
			if s.handlers.Failed != nil {
				s.handlers.Failed(ev.Message)
			}
			return
		default:
			s.logger.Debug("ignoring unknown stream event", "event", ev.Type)
		}
	}
}

// live reports whether events may still be delivered. Progress does not
// reset the reconnect count: servers replay earlier events on reconnect.
func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closedLocked()
}

// finish closes the session on a terminal event. It returns false if the
// session was already closed, in which case the event must be dropped.
func (s *Session) finish() bool {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return false
	}
	src := s.shutdown()
	s.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	return true
}

// dropped handles a transport-level failure: schedule a reconnect or give up.
func (s *Session) dropped(cause error) {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return
	}
	s.src = nil
	s.attempts++
	attempt := s.attempts

	if attempt > s.maxRetries {
		s.shutdown()
		s.mu.Unlock()

		s.logger.Warn("stream reconnects exhausted", "attempts", s.maxRetries, "error", cause)
		if s.handlers.Lost != nil {
			s.handlers.Lost(fmt.Errorf("%w: %w", ErrConnectionLost, cause))
		}
		return
	}

	delay := time.Duration(attempt) * s.retryDelay
	s.state = StateReconnecting
	s.mu.Unlock()

	s.metrics.RecordReconnect()
	s.logger.Warn("stream dropped, reconnecting",
		"attempt", fmt.Sprintf("%d/%d", attempt, s.maxRetries),
		"delay", delay,
		"error", cause)
	// Announce before scheduling so the message precedes any event of the next connection.
	if s.handlers.Progress != nil {
		s.handlers.Progress(fmt.Sprintf("Connection lost. Reconnecting (attempt %d/%d)...", attempt, s.maxRetries))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return
	}
	s.timer = s.afterFunc(delay, s.connect)
}
