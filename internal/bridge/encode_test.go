package bridge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
)

const pngData = "iVBORw0KGgoAAAANSUhEUg=="

func msg(role, raw string) api.ChatMessage {
	return api.ChatMessage{Role: role, Content: json.RawMessage(raw)}
}

func imagePart(uri string) string {
	return `{"type":"image_url","image_url":{"url":"` + uri + `"}}`
}

type streamLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type   string `json:"type"`
			Text   string `json:"text"`
			Source struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			} `json:"source"`
		} `json:"content"`
	} `json:"message"`
}

func decodeLine(t *testing.T, in claudecli.Input) streamLine {
	t.Helper()
	if len(in.Lines) != 1 {
		t.Fatalf("len(Lines) = %d, want 1", len(in.Lines))
	}
	var line streamLine
	if err := json.Unmarshal(in.Lines[0], &line); err != nil {
		t.Fatalf("decode line %s: %v", in.Lines[0], err)
	}
	return line
}

func TestEncodeSelectsModeByImageContent(t *testing.T) {
	tests := []struct {
		name string
		req  api.ChatRequest
		want claudecli.Mode
	}{
		{
			name: "plain text",
			req:  api.ChatRequest{Messages: []api.ChatMessage{msg("user", `"hi"`)}},
			want: claudecli.ModeText,
		},
		{
			name: "text parts",
			req:  api.ChatRequest{Messages: []api.ChatMessage{msg("user", `[{"type":"text","text":"hi"}]`)}},
			want: claudecli.ModeText,
		},
		{
			name: "remote image only",
			req:  api.ChatRequest{Messages: []api.ChatMessage{msg("user", `[{"type":"text","text":"hi"},`+imagePart("https://x/y.png")+`]`)}},
			want: claudecli.ModeText,
		},
		{
			name: "inline image",
			req:  api.ChatRequest{Messages: []api.ChatMessage{msg("user", `[`+imagePart("data:image/png;base64,"+pngData)+`]`)}},
			want: claudecli.ModeStream,
		},
		{
			name: "image in earlier turn",
			req: api.ChatRequest{Messages: []api.ChatMessage{
				msg("user", `[`+imagePart("data:image/jpeg;base64,/9j/")+`]`),
				msg("assistant", `"a cat"`),
				msg("user", `"what color?"`),
			}},
			want: claudecli.ModeStream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Encode(tt.req, "")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if in.Mode != tt.want {
				t.Fatalf("mode = %s, want %s", in.Mode, tt.want)
			}
			if tt.want == claudecli.ModeText && len(in.Lines) != 0 {
				t.Fatalf("text mode carried %d lines", len(in.Lines))
			}
		})
	}
}

func TestEncodeTextModePrompt(t *testing.T) {
	req := api.ChatRequest{
		Model: "claude-haiku-4",
		Messages: []api.ChatMessage{
			msg("system", `"Be terse."`),
			msg("developer", `[{"type":"text","text":"Use metric units."}]`),
			msg("user", `"How far is the moon?"`),
			msg("assistant", `"384,400 km."`),
			msg("user", `[{"type":"text","text":"And the sun?"},{"type":"text","text":"Roughly."}]`),
		},
	}
	in, err := Encode(req, "0b6c1c9e-6a0e-4a53-9d5f-2b4cbe0f0a11")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if in.Model != "haiku" {
		t.Errorf("model = %q, want haiku", in.Model)
	}
	if in.SessionID != "0b6c1c9e-6a0e-4a53-9d5f-2b4cbe0f0a11" {
		t.Errorf("session id = %q", in.SessionID)
	}
	if in.SystemPrompt != "Be terse.\n\nUse metric units." {
		t.Errorf("system prompt = %q", in.SystemPrompt)
	}
	want := "<system>\nBe terse.\n\nUse metric units.\n</system>\n\n" +
		"How far is the moon?\n\n" +
		"<previous_response>\n384,400 km.\n</previous_response>\n\n" +
		"And the sun?\nRoughly."
	if in.Prompt != want {
		t.Fatalf("prompt =\n%q\nwant\n%q", in.Prompt, want)
	}
}

func TestEncodeSingleMessageJoinsInline(t *testing.T) {
	req := api.ChatRequest{Messages: []api.ChatMessage{
		msg("user", `[{"type":"text","text":"foo"},{"type":"text","text":"bar"}]`),
	}}
	in, err := Encode(req, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if in.Prompt != "foobar" {
		t.Fatalf("prompt = %q, want %q", in.Prompt, "foobar")
	}
}

func TestEncodeImageAndTextBlocks(t *testing.T) {
	req := api.ChatRequest{Model: "sonnet", Messages: []api.ChatMessage{
		msg("user", `[{"type":"text","text":"What is this?"},`+imagePart("data:image/png;base64,"+pngData)+`]`),
	}}
	in, err := Encode(req, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if in.Mode != claudecli.ModeStream {
		t.Fatalf("mode = %s, want stream", in.Mode)
	}
	line := decodeLine(t, in)
	if line.Type != "user" || line.Message.Role != "user" {
		t.Fatalf("line header = %q/%q", line.Type, line.Message.Role)
	}
	blocks := line.Message.Content
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2: %s", len(blocks), in.Lines[0])
	}
	if blocks[0].Type != "text" || blocks[0].Text != "What is this?" {
		t.Errorf("blocks[0] = %+v", blocks[0])
	}
	if blocks[1].Type != "image" || blocks[1].Source.Type != "base64" {
		t.Errorf("blocks[1] = %+v", blocks[1])
	}
	if blocks[1].Source.MediaType != "image/png" || blocks[1].Source.Data != pngData {
		t.Errorf("image source = %+v", blocks[1].Source)
	}
	if strings.ContainsRune(string(in.Lines[0]), '\n') {
		t.Error("structured line contains a newline")
	}
}

func TestEncodeStreamModeCollapsesRolesInOrder(t *testing.T) {
	req := api.ChatRequest{Messages: []api.ChatMessage{
		msg("system", `"sys"`),
		msg("user", `[`+imagePart("data:image/gif;base64,R0lGOD")+`]`),
		msg("assistant", `"prior"`),
		msg("user", `"next"`),
	}}
	in, err := Encode(req, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	blocks := decodeLine(t, in).Message.Content
	if len(blocks) != 4 {
		t.Fatalf("len(blocks) = %d, want 4", len(blocks))
	}
	if blocks[0].Text != "<system>\nsys\n</system>" {
		t.Errorf("blocks[0] = %q", blocks[0].Text)
	}
	if blocks[1].Type != "image" || blocks[1].Source.MediaType != "image/gif" {
		t.Errorf("blocks[1] = %+v", blocks[1])
	}
	if blocks[2].Text != "<previous_response>\nprior\n</previous_response>" {
		t.Errorf("blocks[2] = %q", blocks[2].Text)
	}
	if blocks[3].Text != "next" {
		t.Errorf("blocks[3] = %q", blocks[3].Text)
	}
}

func TestEncodeUserLineNeverEmpty(t *testing.T) {
	line, err := encodeUserLine(nil)
	if err != nil {
		t.Fatalf("encodeUserLine: %v", err)
	}
	var decoded streamLine
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Message.Content) != 1 || decoded.Message.Content[0].Type != "text" {
		t.Fatalf("content = %+v", decoded.Message.Content)
	}
}

func TestEncodeUnknownModelFallsBack(t *testing.T) {
	in, err := Encode(api.ChatRequest{Model: "gpt-4o", Messages: []api.ChatMessage{msg("user", `"x"`)}}, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if in.Model != "opus" {
		t.Fatalf("model = %q, want opus", in.Model)
	}
}
