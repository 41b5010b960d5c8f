package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// maxLineBytes bounds one NDJSON line. Entries carry generated code, so
// this is well above bufio's default.
const maxLineBytes = 4 << 20

// Event is one line of a session event stream. Fields that do not apply to
// the event type are zero.
type Event struct {
	Type      string `json:"type"`
	Seq       int64  `json:"event_seq"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`

	// step.status
	StepID    string `json:"step_id"`
	StepLabel string `json:"step_label"`
	StepIndex int    `json:"step_index"`

	// step.status and run.status
	Status string `json:"status"`
	Error  string `json:"error"`

	// entry.appended
	Sequence uint64             `json:"sequence"`
	Origin   models.Origin      `json:"origin"`
	Kind     models.ContentKind `json:"kind"`
	Content  string             `json:"content"`

	// run.status
	Request        string `json:"request"`
	CompletedSteps int    `json:"completed_steps"`
	FailedStep     string `json:"failed_step"`

	Raw json.RawMessage `json:"-"`
}

// IsRunEnd reports whether e is the terminal run.status event of runID.
func (e Event) IsRunEnd(runID string) bool {
	return e.Type == events.EventTypeRunStatus && e.RunID == runID &&
		models.RunStatus(e.Status).IsTerminal()
}

// StreamError is reported when the server cut the stream, e.g. because the
// client fell behind. Reconnect with the last seen event_seq.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "event stream interrupted: " + e.Message }

// Stream is an open NDJSON event stream.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	lastSeq int64
}

// Stream opens the event stream of a session. With after < 0 only new
// events are delivered; otherwise retained events after that sequence are
// replayed first. Stream returns once the server subscription is live.
func (c *Client) Stream(ctx context.Context, id string, after int64) (*Stream, error) {
	q := url.Values{}
	if after >= 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	req, err := c.newRequest(ctx, http.MethodGet, sessionPath(id, "stream"), q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return &Stream{body: resp.Body, scanner: newScanner(resp.Body), lastSeq: after}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return sc
}

// Next blocks for the next event. It returns io.EOF when the server closed
// the stream and a *StreamError when the server cut it.
func (s *Stream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, fmt.Errorf("decode stream event: %w", err)
		}
		if ev.Type == "stream.error" {
			return Event{}, &StreamError{Message: ev.Error}
		}
		ev.Raw = append(json.RawMessage(nil), line...)
		if ev.Seq > s.lastSeq {
			s.lastSeq = ev.Seq
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// LastSeq returns the event_seq of the last event read, or the after value
// the stream was opened with.
func (s *Stream) LastSeq() int64 { return s.lastSeq }

// Close closes the stream.
func (s *Stream) Close() error { return s.body.Close() }

// Watch reads the stream until the run finishes and returns its terminal
// run.status event. Each event is passed to fn first; a non-nil error from
// fn stops the watch. Interrupted streams are reopened from the last seen
// event.
func (c *Client) Watch(ctx context.Context, s *Stream, sessionID, runID string, fn func(Event) error) (Event, error) {
	defer func() { _ = s.Close() }()
	for {
		ev, err := s.Next()
		var streamErr *StreamError
		switch {
		case errors.As(err, &streamErr):
			_ = s.Close()
			reopened, openErr := c.Stream(ctx, sessionID, s.LastSeq())
			if openErr != nil {
				return Event{}, openErr
			}
			*s = *reopened
			continue
		case err != nil:
			return Event{}, err
		}

		if fn != nil {
			if err := fn(ev); err != nil {
				return Event{}, err
			}
		}
		if ev.IsRunEnd(runID) {
			return ev, nil
		}
	}
}
