package client

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Message is one dispatched server-sent event.
type Message struct {
	ID    string
	Event string
	Data  string
}

// Stream reads server-sent events from a live job stream connection.
// Next must be called from a single goroutine; Close may be called from any.
type Stream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an event-stream body.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
	}
}

// Next blocks until the next complete event arrives. It returns io.EOF when
// the server ends the stream; a partially received event is discarded.
func (s *Stream) Next() (Message, error) {
	var (
		msg  Message
		data []string
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return Message{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if len(data) == 0 {
				msg = Message{}
				continue
			}
			msg.Data = strings.Join(data, "\n")
			return msg, nil
		}

		// Comment lines carry heartbeats.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			msg.Event = value
		case "id":
			msg.ID = value
		}
	}
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
