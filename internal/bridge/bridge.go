// Package bridge translates chat completion requests into backend CLI runs
// and the runs' events back into chat completion responses.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/models"
	"github.com/samsaffron/claude-wrapper/internal/transcript"
)

// ErrInvalidRequest marks requests rejected before the backend starts.
var ErrInvalidRequest = errors.New("invalid request")

// ResultError is returned when the backend reports a failed result.
type ResultError struct {
	Subtype string
	Message string
}

func (e *ResultError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Subtype
	}
	if msg == "" {
		msg = "unknown error"
	}
	return "claude CLI reported an error: " + msg
}

// Run is one backend invocation.
type Run interface {
	Events() <-chan claudecli.Event
	Wait() error
	Kill() bool
}

// Backend starts runs.
type Backend interface {
	Start(ctx context.Context, in claudecli.Input, rec claudecli.Recorder) (Run, error)
}

// CLIBackend runs the claude binary.
type CLIBackend struct {
	Options claudecli.Options
}

// Start implements Backend.
func (b CLIBackend) Start(ctx context.Context, in claudecli.Input, rec claudecli.Recorder) (Run, error) {
	opts := b.Options
	opts.Recorder = rec
	p, err := claudecli.Start(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SessionStore maps caller session keys to backend session ids.
type SessionStore interface {
	Resolve(ctx context.Context, key string) (string, error)
	Record(ctx context.Context, key, model string, usage api.Usage) error
}

// Bridge serves chat completion requests with one backend run each.
type Bridge struct {
	Backend  Backend
	Sessions SessionStore
	// TranscriptDir enables per-request JSONL transcripts when set.
	TranscriptDir string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Prepared is a request that passed validation and encoding.
type Prepared struct {
	ID      string
	Created int64
	Model   string
	Input   claudecli.Input
	Session string
}

// NewRequestID returns a fresh chat completion id.
func NewRequestID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate checks the parts of a request the backend cannot recover from.
func Validate(req api.ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case api.RoleSystem, api.RoleDeveloper, api.RoleUser, api.RoleAssistant:
		default:
			return fmt.Errorf("%w: messages[%d].role %q is not supported", ErrInvalidRequest, i, msg.Role)
		}
	}
	return nil
}

// Prepare validates and encodes req, resolving its session key.
func (b *Bridge) Prepare(ctx context.Context, req api.ChatRequest) (*Prepared, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	sessionID := ""
	if req.User != "" && b.Sessions != nil {
		id, err := b.Sessions.Resolve(ctx, req.User)
		if err != nil {
			b.logger().Warn("session lookup failed; continuing without a session", "key", req.User, "error", err)
		} else {
			sessionID = id
		}
	}

	in, err := Encode(req, sessionID)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		ID:      NewRequestID(),
		Created: b.now().Unix(),
		Model:   models.PublicNameFor(models.Alias(in.Model)),
		Input:   in,
		Session: req.User,
	}, nil
}

// Complete runs req to completion and returns the aggregated response.
func (b *Bridge) Complete(ctx context.Context, req api.ChatRequest) (*api.ChatCompletion, error) {
	prep, err := b.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.CompletePrepared(ctx, prep)
}

// CompletePrepared runs an already prepared request.
func (b *Bridge) CompletePrepared(ctx context.Context, prep *Prepared) (*api.ChatCompletion, error) {
	log := b.logger().With("request_id", prep.ID)
	run, rec, err := b.start(ctx, prep)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	var result *claudecli.ResultMessage
	for ev := range run.Events() {
		if ev.Kind == claudecli.EventResult {
			result = ev.Result
		}
	}
	if err := run.Wait(); err != nil {
		log.Warn("claude CLI run failed", "error", err)
		return nil, err
	}
	if err := resultError(result); err != nil {
		return nil, err
	}

	resp := Decode(result, prep.ID, prep.Created)
	b.record(ctx, prep, resp.Model, resp.Usage)
	return &resp, nil
}

// Stream runs a prepared request, handing each chunk to emit in order.
// If emit fails the run is killed and emit's error is returned.
func (b *Bridge) Stream(ctx context.Context, prep *Prepared, emit func(api.ChatCompletionChunk) error) (api.Usage, error) {
	log := b.logger().With("request_id", prep.ID)
	run, rec, err := b.start(ctx, prep)
	if err != nil {
		return api.Usage{}, err
	}
	defer rec.Close()

	s := &Streamer{ID: prep.ID, Model: prep.Model, Created: prep.Created}
	var (
		result  *claudecli.ResultMessage
		emitErr error
	)
	for ev := range run.Events() {
		if emitErr != nil {
			continue
		}
		var (
			chunk api.ChatCompletionChunk
			ok    bool
		)
		switch ev.Kind {
		case claudecli.EventDelta:
			chunk, ok = s.Delta(ev.Text)
		case claudecli.EventAssistant:
			chunk, ok = s.Assistant(ev.Assistant)
		case claudecli.EventResult:
			result = ev.Result
		}
		if !ok {
			continue
		}
		if err := emit(chunk); err != nil {
			emitErr = err
			run.Kill()
		}
	}
	waitErr := run.Wait()
	if emitErr != nil {
		return api.Usage{}, emitErr
	}
	if waitErr != nil {
		log.Warn("claude CLI stream failed", "error", waitErr)
		return api.Usage{}, waitErr
	}
	if err := resultError(result); err != nil {
		return api.Usage{}, err
	}

	if chunk, ok := s.Done(); ok {
		if err := emit(chunk); err != nil {
			return api.Usage{}, err
		}
	}
	usage := ResultUsage(result)
	b.record(ctx, prep, ResultModel(result), usage)
	return usage, nil
}

func (b *Bridge) start(ctx context.Context, prep *Prepared) (Run, *transcript.Writer, error) {
	rec := transcript.Open(b.TranscriptDir, prep.ID, b.logger())
	var recorder claudecli.Recorder
	if rec != nil {
		recorder = rec
	}
	run, err := b.Backend.Start(ctx, prep.Input, recorder)
	if err != nil {
		rec.Close()
		b.logger().Warn("claude CLI failed to start", "request_id", prep.ID, "error", err)
		return nil, nil, err
	}
	return run, rec, nil
}

func (b *Bridge) record(ctx context.Context, prep *Prepared, model string, usage api.Usage) {
	if prep.Session == "" || b.Sessions == nil {
		return
	}
	if err := b.Sessions.Record(ctx, prep.Session, model, usage); err != nil {
		b.logger().Warn("session usage not recorded", "key", prep.Session, "error", err)
	}
}

func resultError(res *claudecli.ResultMessage) error {
	if res == nil {
		return claudecli.ErrNoResult
	}
	if res.IsError {
		return &ResultError{Subtype: res.Subtype, Message: Stringify(res.Result)}
	}
	return nil
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
