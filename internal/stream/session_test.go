package stream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/onboard-go/internal/client"
	"github.com/raphaelgruber/onboard-go/internal/metrics"
	"github.com/raphaelgruber/onboard-go/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpener hands out one scripted connection per call.
// Calls beyond the script get an immediately ending stream.
type fakeOpener struct {
	mu      sync.Mutex
	scripts []string
	calls   int
}

func (f *fakeOpener) open(_ context.Context, _ string) (stream.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := ""
	if f.calls < len(f.scripts) {
		body = f.scripts[f.calls]
	}
	f.calls++
	return client.NewStream(io.NopCloser(strings.NewReader(body))), nil
}

func (f *fakeOpener) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects handler invocations.
type recorder struct {
	mu       sync.Mutex
	progress []string
	profile  string
	complete string
	failed   string
	lost     error
	done     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) handlers() stream.Handlers {
	return stream.Handlers{
		Progress: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, msg)
		},
		Complete: func(profile client.ProfileDocument, msg string) {
			r.mu.Lock()
			r.profile = string(profile)
			r.complete = msg
			r.mu.Unlock()
			close(r.done)
		},
		Failed: func(msg string) {
			r.mu.Lock()
			r.failed = msg
			r.mu.Unlock()
			close(r.done)
		},
		Lost: func(err error) {
			r.mu.Lock()
			r.lost = err
			r.mu.Unlock()
			close(r.done)
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not reach a terminal state")
	}
}

func (r *recorder) Progress() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...)
}

func testOptions(collector *metrics.Collector) stream.Options {
	return stream.Options{
		RetryDelay: time.Millisecond,
		Metrics:    collector,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func event(json string) string {
	return "data: " + json + "\n\n"
}

func TestSessionProgressThenComplete(t *testing.T) {
	opener := &fakeOpener{scripts: []string{
		event(`{"event":"start","message":"Connecting..."}`) +
			event(`{"event":"update","message":"Reading homepage"}`) +
			event(`{"event":"complete","message":"Done","data":{"company_name":"Linear"}}`),
	}}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	assert.Equal(t, []string{"Connecting...", "Reading homepage"}, rec.Progress())
	assert.JSONEq(t, `{"company_name":"Linear"}`, rec.profile)
	assert.Equal(t, "Done", rec.complete)
	assert.Equal(t, stream.StateClosed, s.State())
	assert.Equal(t, 1, opener.Calls())
}

func TestSessionServerErrorIsTerminal(t *testing.T) {
	opener := &fakeOpener{scripts: []string{
		event(`{"event":"error","error":"Site blocked the scraper"}`),
	}}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	assert.Equal(t, "Site blocked the scraper", rec.failed)
	assert.Empty(t, rec.Progress(), "no reconnect after a server error")
	assert.Equal(t, 1, opener.Calls())
}

func TestSessionGivesUpAfterMaxRetries(t *testing.T) {
	opener := &fakeOpener{}
	collector := metrics.NewCollector()
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(collector))
	s.Open(context.Background())
	rec.wait(t)

	require.Error(t, rec.lost)
	assert.ErrorIs(t, rec.lost, stream.ErrConnectionLost)
	assert.ErrorIs(t, rec.lost, io.EOF)
	assert.Equal(t, 4, opener.Calls(), "first connection plus three reconnects")
	assert.Equal(t, []string{
		"Connection lost. Reconnecting (attempt 1/3)...",
		"Connection lost. Reconnecting (attempt 2/3)...",
		"Connection lost. Reconnecting (attempt 3/3)...",
	}, rec.Progress())
	assert.Equal(t, int64(3), collector.Snapshot().StreamReconnects)
	assert.Equal(t, stream.StateClosed, s.State())
}

func TestSessionReplayedProgressDoesNotExtendRetries(t *testing.T) {
	scripts := make([]string, 50)
	for i := range scripts {
		scripts[i] = event(`{"event":"start","message":"Connecting..."}`)
	}
	opener := &fakeOpener{scripts: scripts}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	assert.ErrorIs(t, rec.lost, stream.ErrConnectionLost)
	assert.Equal(t, 4, opener.Calls(), "first connection plus three reconnects")
	assert.Equal(t, []string{
		"Connecting...",
		"Connection lost. Reconnecting (attempt 1/3)...",
		"Connecting...",
		"Connection lost. Reconnecting (attempt 2/3)...",
		"Connecting...",
		"Connection lost. Reconnecting (attempt 3/3)...",
		"Connecting...",
	}, rec.Progress())
}

func TestSessionBackoffIsLinear(t *testing.T) {
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	opener := &fakeOpener{}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), stream.Options{
		RetryDelay: 250 * time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	stream.SetAfterFunc(s, func(d time.Duration, fn func()) *time.Timer {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return time.AfterFunc(0, fn)
	})
	s.Open(context.Background())
	rec.wait(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		750 * time.Millisecond,
	}, delays)
}

func TestSessionNoReconnect(t *testing.T) {
	opener := &fakeOpener{}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), stream.Options{
		MaxRetries: stream.NoReconnect,
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.Open(context.Background())
	rec.wait(t)

	assert.ErrorIs(t, rec.lost, stream.ErrConnectionLost)
	assert.Equal(t, 1, opener.Calls())
	assert.Empty(t, rec.Progress())
}

func TestSessionReconnectsThenCompletes(t *testing.T) {
	opener := &fakeOpener{scripts: []string{
		event(`{"event":"start","message":"Connecting..."}`),
		event(`{"event":"complete","data":{"a":1}}`),
	}}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	assert.Equal(t, []string{
		"Connecting...",
		"Connection lost. Reconnecting (attempt 1/3)...",
	}, rec.Progress())
	assert.JSONEq(t, `{"a":1}`, rec.profile)
	assert.Nil(t, rec.lost)
}

func TestSessionIgnoresMalformedAndUnknown(t *testing.T) {
	opener := &fakeOpener{scripts: []string{
		event(`{"event":`) +
			event(`not json`) +
			event(`{"event":"heartbeat"}`) +
			event(`{"event":"reading","message":"Still here"}`) +
			event(`{"event":"complete","data":{}}`),
	}}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	assert.Equal(t, []string{"Still here"}, rec.Progress())
	assert.Equal(t, 1, opener.Calls())
}

func TestSessionOpenFailureCountsAsDrop(t *testing.T) {
	var calls int
	var mu sync.Mutex
	open := func(ctx context.Context, jobID string) (stream.Source, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, &client.NetworkError{Message: "Network error. Please check your internet connection.", Err: errors.New("dial")}
	}
	rec := newRecorder()
	s := stream.New("abc", open, rec.handlers(), stream.Options{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.Open(context.Background())
	rec.wait(t)

	var netErr *client.NetworkError
	assert.True(t, errors.As(rec.lost, &netErr))
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestSessionCloseCancelsPendingReconnect(t *testing.T) {
	opener := &fakeOpener{}
	dropped := make(chan struct{}, 1)
	s := stream.New("abc", opener.open, stream.Handlers{
		Progress: func(string) {
			select {
			case dropped <- struct{}{}:
			default:
			}
		},
		Lost: func(error) { t.Error("lost must not fire after Close") },
	}, stream.Options{
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.Open(context.Background())

	select {
	case <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatal("first drop was not reported")
	}
	assert.Equal(t, stream.StateReconnecting, s.State())

	s.Close()
	s.Close()
	assert.Equal(t, stream.StateClosed, s.State())

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, opener.Calls(), "no reconnect after Close")
}

func TestSessionCloseReleasesBlockedStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	opened := make(chan struct{})
	open := func(ctx context.Context, jobID string) (stream.Source, error) {
		close(opened)
		return client.NewStream(pr), nil
	}
	s := stream.New("abc", open, stream.Handlers{
		Progress: func(string) { t.Error("no progress expected after Close") },
	}, testOptions(nil))
	s.Open(context.Background())
	<-opened

	require.Eventually(t, func() bool { return s.State() == stream.StateOpen }, time.Second, time.Millisecond)
	s.Close()

	// The blocked reader observes the closed pipe and must not reconnect.
	_, err := pw.Write([]byte("data: {}\n\n"))
	assert.Error(t, err)
	assert.Equal(t, stream.StateClosed, s.State())
}

func TestSessionOpenOnlyOnce(t *testing.T) {
	opener := &fakeOpener{scripts: []string{event(`{"event":"complete","data":{}}`)}}
	rec := newRecorder()
	s := stream.New("abc", opener.open, rec.handlers(), testOptions(nil))
	s.Open(context.Background())
	rec.wait(t)

	s.Open(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, opener.Calls())
}
