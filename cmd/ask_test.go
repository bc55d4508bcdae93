package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/bridge"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/content"
)

// 1x1 transparent PNG
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestJoinQuestion(t *testing.T) {
	tests := []struct {
		question, piped, want string
	}{
		{"what went wrong?", "panic: boom\n", "what went wrong?\n\npanic: boom"},
		{"", "just stdin\n", "just stdin"},
		{"just args", "  \n", "just args"},
	}
	for _, tt := range tests {
		if got := joinQuestion(tt.question, tt.piped); got != tt.want {
			t.Errorf("joinQuestion(%q, %q) = %q, want %q", tt.question, tt.piped, got, tt.want)
		}
	}
}

func TestImageDataURI(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "pixel.png")
	if err := os.WriteFile(png, tinyPNG, 0o600); err != nil {
		t.Fatal(err)
	}
	uri, err := imageDataURI(png)
	if err != nil {
		t.Fatalf("imageDataURI: %v", err)
	}
	mediaType, data, ok := content.ParseDataURI(uri)
	if !ok || mediaType != "image/png" || data == "" {
		t.Fatalf("ParseDataURI(%q) = %q, %q, %v", uri[:40], mediaType, data, ok)
	}

	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := imageDataURI(notes); err == nil {
		t.Fatal("text file accepted as image")
	}
}

func TestAskChatRequestShapes(t *testing.T) {
	in := askInput{Model: "opus", System: "be brief", Prompt: "hi", User: "me"}
	req, err := in.chatRequest(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != api.RoleSystem || req.Messages[1].Role != api.RoleUser {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if content.Normalize(req.Messages[1].Content) != "hi" || req.User != "me" {
		t.Fatalf("request = %+v", req)
	}

	in.Images = []string{"data:image/png;base64,AAAA"}
	req, err = in.chatRequest(true)
	if err != nil {
		t.Fatal(err)
	}
	if !req.Stream {
		t.Fatal("stream flag lost")
	}
	parts := content.ToBlocks(req.Messages[1].Content)
	if len(parts) != 2 || parts[0].Type != content.PartText || parts[1].Type != content.PartImage {
		t.Fatalf("parts = %+v", parts)
	}

	params := in.openAIParams()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"model":"opus"`, `"user":"me"`, `"image_url"`, `"role":"system"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("params %s missing %s", raw, want)
		}
	}
}

func TestLocalAskerStreamsAndCompletes(t *testing.T) {
	binary := fakeClaude(t, pongOutput)
	a := localAsker{bridge: &bridge.Bridge{
		Backend: bridge.CLIBackend{Options: claudecli.Options{Binary: binary, Timeout: 10 * time.Second}},
	}}
	in := askInput{Model: "sonnet", Prompt: "ping"}

	answer, err := a.Ask(context.Background(), in, nil)
	if err != nil || answer != "pong" {
		t.Fatalf("Ask = %q, %v", answer, err)
	}

	var deltas []string
	answer, err = a.Ask(context.Background(), in, func(s string) { deltas = append(deltas, s) })
	if err != nil || answer != "pong" {
		t.Fatalf("streaming Ask = %q, %v", answer, err)
	}
	if strings.Join(deltas, "|") != "po|ng" {
		t.Fatalf("deltas = %q", deltas)
	}
}

func TestRemoteAskerAgainstServer(t *testing.T) {
	ts := newTestServer(t, fakeClaude(t, pongOutput))
	a := newRemoteAsker(ts.URL, testToken)
	in := askInput{Model: "sonnet", Prompt: "ping"}

	answer, err := a.Ask(context.Background(), in, nil)
	if err != nil || answer != "pong" {
		t.Fatalf("Ask = %q, %v", answer, err)
	}

	var sb strings.Builder
	answer, err = a.Ask(context.Background(), in, func(s string) { sb.WriteString(s) })
	if err != nil || answer != "pong" || sb.String() != "pong" {
		t.Fatalf("streaming Ask = %q (%q), %v", answer, sb.String(), err)
	}

	bad := newRemoteAsker(ts.URL, "wrong")
	if _, err := bad.Ask(context.Background(), in, nil); err == nil {
		t.Fatal("expected auth failure with wrong token")
	}
}

func TestRenderMarkdown(t *testing.T) {
	out, err := renderMarkdown("# Title\n\nsome **bold** text", 60)
	if err != nil {
		t.Fatalf("renderMarkdown: %v", err)
	}
	if !strings.Contains(out, "Title") || !strings.Contains(out, "bold") {
		t.Fatalf("rendered = %q", out)
	}
}
