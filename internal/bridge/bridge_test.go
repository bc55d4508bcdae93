package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
)

// fakeRun replays canned output lines as events.
type fakeRun struct {
	events chan claudecli.Event
	err    error
	killed bool
	mu     sync.Mutex
}

func (r *fakeRun) Events() <-chan claudecli.Event { return r.events }
func (r *fakeRun) Wait() error { return r.err }
func (r *fakeRun) Kill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.killed
	r.killed = true
	return first
}

type fakeBackend struct {
	lines    []string
	err      error
	startErr error
	got      claudecli.Input
	run      *fakeRun
}

func (b *fakeBackend) Start(_ context.Context, in claudecli.Input, rec claudecli.Recorder) (Run, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	b.got = in
	ch := make(chan claudecli.Event, len(b.lines))
	for _, l := range b.lines {
		if rec != nil {
			rec.Record("line", l)
		}
		ch <- claudecli.Classify([]byte(l))
	}
	close(ch)
	b.run = &fakeRun{events: ch, err: b.err}
	return b.run, nil
}

type memSessions struct {
	ids      map[string]string
	recorded map[string]api.Usage
}

func (m *memSessions) Resolve(_ context.Context, key string) (string, error) {
	return m.ids[key], nil
}

func (m *memSessions) Record(_ context.Context, key, _ string, usage api.Usage) error {
	if m.recorded == nil {
		m.recorded = map[string]api.Usage{}
	}
	m.recorded[key] = usage
	return nil
}

var streamLines = []string{
	`{"type":"system","subtype":"init"}`,
	`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"po"}}}`,
	`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"ng"}}}`,
	`{"type":"assistant","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"pong"}],"stop_reason":"end_turn"}}`,
	`{"type":"result","subtype":"success","result":"pong","usage":{"input_tokens":5,"output_tokens":2},"modelUsage":{"claude-sonnet-4-5":{"inputTokens":5,"outputTokens":2}}}`,
}

func pingRequest() api.ChatRequest {
	return api.ChatRequest{Model: "sonnet", Messages: []api.ChatMessage{api.TextMessage("user", "ping")}, User: "alice"}
}

func TestBridgeComplete(t *testing.T) {
	backend := &fakeBackend{lines: streamLines}
	sessions := &memSessions{ids: map[string]string{"alice": "5f1e2d3c-0000-4000-8000-000000000001"}}
	b := &Bridge{Backend: backend, Sessions: sessions}

	resp, err := b.Complete(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Choices[0].Message.Content != "pong" || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("choice = %+v", resp.Choices[0])
	}
	if resp.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", resp.Model)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("id = %q", resp.ID)
	}
	if backend.got.SessionID != "5f1e2d3c-0000-4000-8000-000000000001" {
		t.Errorf("session id = %q", backend.got.SessionID)
	}
	if sessions.recorded["alice"].TotalTokens != 7 {
		t.Errorf("recorded usage = %+v", sessions.recorded["alice"])
	}
}

func TestBridgeStream(t *testing.T) {
	b := &Bridge{Backend: &fakeBackend{lines: streamLines}}
	prep, err := b.Prepare(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	var chunks []api.ChatCompletionChunk
	usage, err := b.Stream(context.Background(), prep, func(c api.ChatCompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Error("first chunk lacks role")
	}
	if fr := chunks[2].Choices[0].FinishReason; fr == nil || *fr != "stop" {
		t.Errorf("last finish_reason = %v", fr)
	}
	for _, c := range chunks {
		if c.ID != prep.ID || c.Model != "claude-sonnet-4" {
			t.Errorf("chunk envelope = %q %q", c.ID, c.Model)
		}
	}
	if usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestBridgeStreamWithoutAssistantStop(t *testing.T) {
	lines := []string{streamLines[1], streamLines[2], `{"type":"result","result":"pong"}`}
	b := &Bridge{Backend: &fakeBackend{lines: lines}}
	prep, err := b.Prepare(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	var chunks []api.ChatCompletionChunk
	if _, err := b.Stream(context.Background(), prep, func(c api.ChatCompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if fr := chunks[2].Choices[0].FinishReason; fr == nil || *fr != "stop" {
		t.Errorf("done chunk finish_reason = %v", fr)
	}
}

func TestBridgeStreamEmitFailureKillsRun(t *testing.T) {
	backend := &fakeBackend{lines: streamLines}
	b := &Bridge{Backend: backend}
	prep, err := b.Prepare(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	gone := errors.New("client went away")
	calls := 0
	_, err = b.Stream(context.Background(), prep, func(api.ChatCompletionChunk) error {
		calls++
		return gone
	})
	if !errors.Is(err, gone) {
		t.Fatalf("Stream = %v, want emit error", err)
	}
	if calls != 1 {
		t.Errorf("emit called %d times after failing", calls)
	}
	if !backend.run.killed {
		t.Error("run was not killed")
	}
}

func TestBridgeSurfacesProcessErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		check   func(error) bool
	}{
		{"not installed", &fakeBackend{startErr: claudecli.ErrBackendNotFound}, func(err error) bool { return errors.Is(err, claudecli.ErrBackendNotFound) }},
		{"timeout", &fakeBackend{lines: streamLines[:2], err: claudecli.ErrTimeout}, func(err error) bool { return errors.Is(err, claudecli.ErrTimeout) }},
		{"exit", &fakeBackend{err: &claudecli.ExitError{Code: 1}}, func(err error) bool {
			var e *claudecli.ExitError
			return errors.As(err, &e)
		}},
		{"error result", &fakeBackend{lines: []string{`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"rate limited"}`}}, func(err error) bool {
			var e *ResultError
			return errors.As(err, &e) && e.Message == "rate limited"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Bridge{Backend: tt.backend}
			if _, err := b.Complete(context.Background(), pingRequest()); !tt.check(err) {
				t.Fatalf("Complete error = %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(api.ChatRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty messages: %v", err)
	}
	bad := api.ChatRequest{Messages: []api.ChatMessage{api.TextMessage("tool", "x")}}
	if err := Validate(bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("tool role: %v", err)
	}
	if err := Validate(pingRequest()); err != nil {
		t.Errorf("valid request: %v", err)
	}
}

func TestBridgeWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	b := &Bridge{Backend: &fakeBackend{lines: streamLines}, TranscriptDir: dir}
	resp, err := b.Complete(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, resp.ID+".jsonl"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != len(streamLines) {
		t.Errorf("transcript has %d lines, want %d", got, len(streamLines))
	}
}
