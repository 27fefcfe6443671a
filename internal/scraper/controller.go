// Package scraper drives the lifecycle of a remote scrape job: submit, observe
// the event stream, and resume a persisted job after a restart.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/onboard-go/internal/client"
	"github.com/raphaelgruber/onboard-go/internal/jobstore"
	"github.com/raphaelgruber/onboard-go/internal/stream"
)

// DefaultProgressLogSize is how many recent progress messages are kept.
const DefaultProgressLogSize = 5

// Phase is the controller-level lifecycle position of the current job.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseSubmitting Phase = "submitting"
	PhaseStreaming  Phase = "streaming"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further events are processed in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// ResumeOutcome is the result of ResumeJob.
type ResumeOutcome int

const (
	ResumeNothing ResumeOutcome = iota
	ResumeComplete
	ResumeFailed
	ResumeInProgress
)

func (o ResumeOutcome) String() string {
	switch o {
	case ResumeComplete:
		return "resumed-complete"
	case ResumeFailed:
		return "resumed-failed"
	case ResumeInProgress:
		return "resumed-in-progress"
	default:
		return "nothing-to-resume"
	}
}

// State is the observable controller state. Result and Error are never both set.
type State struct {
	Phase       Phase
	IsLoading   bool
	ProgressLog []string
	// ProgressCount counts every appended message, including those rotated out of ProgressLog.
	ProgressCount int
	Result        client.ProfileDocument
	Error         string
	JobID         string
	SourceURL     string
}

// Transport is the subset of the API client the controller needs.
type Transport interface {
	SubmitJob(ctx context.Context, sourceURL string) (*client.SubmitResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*client.JobStatus, error)
	GetJobResult(ctx context.Context, jobID string) (*client.JobResult, error)
	OpenStream(ctx context.Context, jobID string) (*client.Stream, error)
}

// Options configures a Controller.
type Options struct {
	// ProgressLogSize bounds ProgressLog. Zero means DefaultProgressLogSize.
	ProgressLogSize int
	// Stream configures reconnects of the event stream.
	Stream stream.Options
	// Opener overrides how streams are opened. Defaults to Transport.OpenStream.
	Opener stream.Opener
	Logger *slog.Logger
}

// Controller owns the job lifecycle state machine. At most one stream session
// is live at any time; events from a superseded session are dropped.
type Controller struct {
	transport  Transport
	store      *jobstore.Store
	open       stream.Opener
	streamOpts stream.Options
	logSize    int
	logger     *slog.Logger

	// opMu serialises StartJob, ResumeJob and terminal stream events.
	// Lock order is opMu before mu.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	session  *stream.Session
	run      *run
	watchers map[chan struct{}]struct{}
}

// run tracks one job instance for Wait.
type run struct {
	done     chan struct{}
	err      error
	finished bool
}

// New creates a controller over transport and store.
func New(transport Transport, store *jobstore.Store, opts Options) *Controller {
	if opts.ProgressLogSize <= 0 {
		opts.ProgressLogSize = DefaultProgressLogSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stream.Logger == nil {
		opts.Stream.Logger = opts.Logger
	}
	open := opts.Opener
	if open == nil {
		open = func(ctx context.Context, jobID string) (stream.Source, error) {
			s, err := transport.OpenStream(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	return &Controller{
		transport:  transport,
		store:      store,
		open:       open,
		streamOpts: opts.Stream,
		logSize:    opts.ProgressLogSize,
		logger:     opts.Logger,
		state:      State{Phase: PhaseNotStarted},
		watchers:   make(map[chan struct{}]struct{}),
	}
}

// StartJob validates rawInput, submits it and starts streaming progress.
// A *ValidationError is returned without any state change or network call.
// The stream outlives ctx; use Close to abandon it.
func (c *Controller) StartJob(ctx context.Context, rawInput string) error {
	sourceURL, err := NormalizeURL(rawInput)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.beginLocked(State{Phase: PhaseSubmitting, IsLoading: true, SourceURL: sourceURL})
	c.mu.Unlock()

	c.logger.Info("submitting job", "source_url", sourceURL)
	resp, err := c.transport.SubmitJob(ctx, sourceURL)
	if err != nil {
		c.logger.Error("job submission failed", "source_url", sourceURL, "error", err)
		c.mu.Lock()
		c.failLocked(err.Error(), err)
		c.mu.Unlock()
		return err
	}

	// A storage failure only costs the ability to resume.
	_ = c.store.Save(ctx, resp.JobID, sourceURL)

	c.logger.Info("job submitted", "job_id", resp.JobID)
	c.mu.Lock()
	c.state.JobID = resp.JobID
	c.openSessionLocked(ctx, resp.JobID)
	c.mu.Unlock()
	return nil
}

// ResumeJob picks up the persisted job, if any. A missing record leaves the
// state untouched; an expired record is cleared without asking the server.
func (c *Controller) ResumeJob(ctx context.Context) ResumeOutcome {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	rec, ok := c.store.Load(ctx)
	if !ok {
		return ResumeNothing
	}
	if c.store.IsExpired(*rec) {
		c.logger.Info("discarding expired job", "job_id", rec.JobID, "started_at", rec.StartedAt)
		_ = c.store.Clear(ctx)
		return ResumeNothing
	}

	c.mu.Lock()
	c.beginLocked(State{Phase: PhaseNotStarted, IsLoading: true, JobID: rec.JobID, SourceURL: rec.SourceURL})
	c.mu.Unlock()

	status, err := c.transport.GetJobStatus(ctx, rec.JobID)
	if err != nil {
		c.abandonResume(ctx, rec, err)
		return ResumeNothing
	}

	switch status.Status {
	case client.StatusFinished:
		res, err := c.transport.GetJobResult(ctx, rec.JobID)
		if err != nil {
			c.abandonResume(ctx, rec, err)
			return ResumeNothing
		}
		c.logger.Info("resumed finished job", "job_id", rec.JobID)
		c.succeed(ctx, res.Result, "")
		return ResumeComplete

	case client.StatusFailed:
		msg := status.Error
		if msg == "" {
			msg = "Job failed"
		}
		c.logger.Info("resumed failed job", "job_id", rec.JobID, "error", msg)
		_ = c.store.Clear(ctx)
		c.mu.Lock()
		c.failLocked(msg, &JobFailedError{Message: msg})
		c.mu.Unlock()
		return ResumeFailed

	default:
		c.logger.Info("resuming job stream", "job_id", rec.JobID, "status", status.Status)
		c.mu.Lock()
		c.openSessionLocked(ctx, rec.JobID)
		c.mu.Unlock()
		return ResumeInProgress
	}
}

// abandonResume drops a record whose status could not be determined.
func (c *Controller) abandonResume(ctx context.Context, rec *jobstore.Record, err error) {
	c.logger.Warn("abandoning persisted job", "job_id", rec.JobID, "error", err)
	_ = c.store.Clear(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Phase: PhaseNotStarted}
	c.finishLocked(ErrNotStarted)
	c.notifyLocked()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.ProgressLog = append([]string(nil), c.state.ProgressLog...)
	return s
}

// Watch returns a channel that receives a value whenever the state changes.
// Notifications coalesce; read Snapshot after each one. Call cancel when done.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

// Wait blocks until the current job instance ends and returns its final state.
// The error is nil on success and describes the failure otherwise.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return c.Snapshot(), ErrNotStarted
	}

	select {
	case <-r.done:
		return c.Snapshot(), r.err
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Close abandons the live stream session. The persisted record is kept so
// the job can be resumed later.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	c.closeSessionLocked()
	c.state.IsLoading = false
	c.finishLocked(ErrAbandoned)
	c.notifyLocked()
}

// beginLocked starts a fresh job instance, abandoning the previous one.
func (c *Controller) beginLocked(s State) {
	c.closeSessionLocked()
	c.finishLocked(ErrAbandoned)
	c.state = s
	c.run = &run{done: make(chan struct{})}
	c.notifyLocked()
}

// finishLocked records the outcome of the current instance and wakes Wait callers.
func (c *Controller) finishLocked(err error) {
	if c.run != nil && !c.run.finished {
		c.run.err = err
		c.run.finished = true
		close(c.run.done)
	}
}

func (c *Controller) closeSessionLocked() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func (c *Controller) notifyLocked() {
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) failLocked(msg string, err error) {
	c.closeSessionLocked()
	c.state.Phase = PhaseFailed
	c.state.IsLoading = false
	c.state.Result = nil
	c.state.Error = msg
	c.finishLocked(err)
	c.notifyLocked()
}

// succeed persists the result entry, clears the record and publishes the result.
func (c *Controller) succeed(ctx context.Context, profile client.ProfileDocument, message string) {
	if len(profile) == 0 {
		profile = json.RawMessage("null")
	}
	_ = c.store.SaveResult(ctx, profile)
	_ = c.store.Clear(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSessionLocked()
	if message != "" {
		c.appendProgressLocked(message)
	}
	c.state.Phase = PhaseSucceeded
	c.state.IsLoading = false
	c.state.Error = ""
	c.state.Result = profile
	c.finishLocked(nil)
	c.notifyLocked()
}

// appendProgressLocked adds msg, skipping a repeat of the latest entry so
// replayed events after a reconnect do not duplicate lines.
func (c *Controller) appendProgressLocked(msg string) {
	if msg == "" {
		return
	}
	log := c.state.ProgressLog
	if n := len(log); n > 0 && log[n-1] == msg {
		return
	}
	log = append(log, msg)
	if len(log) > c.logSize {
		log = append([]string(nil), log[len(log)-c.logSize:]...)
	}
	c.state.ProgressLog = log
	c.state.ProgressCount++
}

// openSessionLocked starts streaming jobID. Events are applied only while the
// session is still the controller's current one.
func (c *Controller) openSessionLocked(ctx context.Context, jobID string) {
	c.closeSessionLocked()

	var s *stream.Session
	s = stream.New(jobID, c.open, stream.Handlers{
		Progress: func(msg string) { c.onProgress(s, msg) },
		Complete: func(profile client.ProfileDocument, msg string) { c.onComplete(s, profile, msg) },
		Failed:   func(msg string) { c.onFailed(s, msg) },
		Lost:     func(err error) { c.onLost(s, err) },
	}, c.streamOpts)

	c.session = s
	c.state.Phase = PhaseStreaming
	c.state.IsLoading = true
	c.notifyLocked()

	s.Open(context.WithoutCancel(ctx))
}

// claim detaches s if it is still the current session. Once claimed, Close
// and later events can no longer race the terminal update.
func (c *Controller) claim(s *stream.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return false
	}
	c.session = nil
	return true
}

func (c *Controller) onProgress(s *stream.Session, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return
	}
	c.appendProgressLocked(msg)
	c.notifyLocked()
}

func (c *Controller) onComplete(s *stream.Session, profile client.ProfileDocument, msg string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.claim(s) {
		return
	}
	c.logger.Info("job finished", "job_id", s.JobID())
	c.succeed(context.Background(), profile, msg)
}

func (c *Controller) onFailed(s *stream.Session, msg string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.claim(s) {
		return
	}
	c.logger.Warn("job failed", "job_id", s.JobID(), "error", msg)
	_ = c.store.Clear(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(msg, &JobFailedError{Message: msg})
}

// onLost keeps the persisted record: the job may still finish server-side.
func (c *Controller) onLost(s *stream.Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return
	}
	c.logger.Warn("lost job stream", "job_id", s.JobID(), "error", err)
	c.failLocked(msgConnectionLost, fmt.Errorf("job %s: %w", s.JobID(), err))
}
