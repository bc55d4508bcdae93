package claudecli

import (
	"math/rand"
	"reflect"
	"testing"
)

const sampleStream = `{"type":"system","subtype":"init","session_id":"abc"}
{"type":"stream_event","event":{"type":"message_start","message":{}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo, wörld 👋"}}}

not json at all
{"type":"assistant","message":{"role":"assistant","model":"claude-sonnet-4-5-20250929","content":[{"type":"text","text":"Hello, wörld 👋"}],"stop_reason":"end_turn"}}` + "\r\n" + `   
{"type":"result","subtype":"success","is_error":false,"result":"Hello, wörld 👋","usage":{"input_tokens":12,"output_tokens":5},"modelUsage":{"claude-sonnet-4-5-20250929":{"inputTokens":12,"outputTokens":5},"claude-haiku-4-5":{"inputTokens":1,"outputTokens":1}}}
{"type":"result","trailing":"no newline"}`

func parseChunks(chunks [][]byte) []Event {
	var events []Event
	p := NewLineParser(func(_ []byte, ev Event) {
		events = append(events, ev)
	})
	for _, c := range chunks {
		if _, err := p.Write(c); err != nil {
			panic(err)
		}
	}
	p.Flush()
	return events
}

func TestLineParserWholeStream(t *testing.T) {
	events := parseChunks([][]byte{[]byte(sampleStream)})

	wantKinds := []EventKind{EventRaw, EventRaw, EventDelta, EventDelta, EventRaw, EventAssistant, EventResult, EventResult}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d", len(events), len(wantKinds))
	}
	for i, want := range wantKinds {
		if events[i].Kind != want {
			t.Errorf("event %d kind = %s, want %s (line %q)", i, events[i].Kind, want, events[i].Line)
		}
	}
	if events[2].Text != "Hel" || events[3].Text != "lo, wörld 👋" {
		t.Errorf("delta texts = %q, %q", events[2].Text, events[3].Text)
	}
	if events[4].Line != "not json at all" {
		t.Errorf("raw line = %q", events[4].Line)
	}
	if events[5].Assistant.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", events[5].Assistant.StopReason)
	}
	if events[5].Line[len(events[5].Line)-1] == '\r' {
		t.Error("carriage return leaked into line")
	}
}

func TestLineParserChunkBoundaryIndependence(t *testing.T) {
	data := []byte(sampleStream)
	want := parseChunks([][]byte{data})

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		var chunks [][]byte
		rest := data
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			if trial%4 == 0 {
				n = 1 + rng.Intn(3)
			}
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := parseChunks(chunks)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: %d chunks produced different events", trial, len(chunks))
		}
	}
}

func TestLineParserBufferReuseDoesNotAliasEvents(t *testing.T) {
	var lines []string
	p := NewLineParser(func(line []byte, ev Event) {
		lines = append(lines, string(line))
		_ = ev
	})
	_, _ = p.Write([]byte("first\nsec"))
	_, _ = p.Write([]byte("ond\nthird"))
	p.Flush()
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}

func TestClassifyResultModelUsageOrder(t *testing.T) {
	line := `{"type":"result","result":"ok","usage":{"input_tokens":3,"output_tokens":4,"cache_read_input_tokens":9},` +
		`"modelUsage":{"claude-opus-4-1":{"inputTokens":3,"outputTokens":4,"costUSD":0.01},"claude-haiku-4-5":{"inputTokens":1}}}`
	ev := Classify([]byte(line))
	if ev.Kind != EventResult {
		t.Fatalf("kind = %s, want result", ev.Kind)
	}
	r := ev.Result
	if r.Usage == nil || r.Usage.InputTokens != 3 || r.Usage.OutputTokens != 4 || r.Usage.CacheReadInputTokens != 9 {
		t.Fatalf("usage = %+v", r.Usage)
	}
	if len(r.ModelUsage) != 2 || r.ModelUsage[0].Model != "claude-opus-4-1" || r.ModelUsage[1].Model != "claude-haiku-4-5" {
		t.Fatalf("modelUsage = %+v", r.ModelUsage)
	}
	if r.ModelUsage[0].CostUSD != 0.01 {
		t.Errorf("cost = %v", r.ModelUsage[0].CostUSD)
	}
}

func TestClassifyTolerance(t *testing.T) {
	tests := []struct {
		line string
		want EventKind
	}{
		{`{"type":"result","modelUsage":[1,2]}`, EventResult},
		{`{"type":"result","modelUsage":null}`, EventResult},
		{`{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`, EventDelta},
		{`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta"}}}`, EventRaw},
		{`{"type":"assistant","message":"oops"}`, EventRaw},
		{`{"type":"user","message":{}}`, EventRaw},
		{`[1,2,3]`, EventRaw},
		{`{"type":`, EventRaw},
	}
	for _, tt := range tests {
		if got := Classify([]byte(tt.line)).Kind; got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.line, got, tt.want)
		}
	}
}
