package claudecli

import (
	"bytes"
	"encoding/json"
)

// EventKind classifies one backend output line.
type EventKind int

const (
	// EventRaw is a line that is not JSON or has an unrecognized type.
	EventRaw EventKind = iota
	// EventDelta is an incremental text fragment.
	EventDelta
	// EventAssistant is a complete assistant message.
	EventAssistant
	// EventResult is the terminal result line.
	EventResult
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventAssistant:
		return "assistant"
	case EventResult:
		return "result"
	default:
		return "raw"
	}
}

// Event is one classified output line. Exactly one of Text, Assistant or
// Result is meaningful, depending on Kind. Line always holds the source line.
type Event struct {
	Kind      EventKind
	Text      string
	Assistant *AssistantMessage
	Result    *ResultMessage
	Line      string
}

// AssistantMessage is a full assistant turn. Content is left undecoded
// because its shape is not guaranteed.
type AssistantMessage struct {
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason"`
}

// ResultMessage is the final line of a run.
type ResultMessage struct {
	Subtype      string          `json:"subtype"`
	IsError      bool            `json:"is_error"`
	Result       json.RawMessage `json:"result"`
	SessionID    string          `json:"session_id"`
	DurationMS   int64           `json:"duration_ms"`
	NumTurns     int             `json:"num_turns"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	Usage        *Usage          `json:"usage"`
	ModelUsage   ModelUsageList  `json:"modelUsage"`
}

// Usage is the aggregate token usage of a result.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ModelUsage is one model's share of a result's usage.
type ModelUsage struct {
	Model                    string  `json:"-"`
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
}

// ModelUsageList keeps the per-model usage in the order the backend wrote it.
type ModelUsageList []ModelUsage

// UnmarshalJSON decodes the modelUsage object preserving key order. Shapes
// other than an object decode to an empty list so the result line survives.
func (l *ModelUsageList) UnmarshalJSON(data []byte) error {
	*l = nil
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	var out ModelUsageList
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		key, _ := tok.(string)
		var mu ModelUsage
		if err := dec.Decode(&mu); err != nil {
			break
		}
		mu.Model = key
		out = append(out, mu)
	}
	*l = out
	return nil
}

// wire shapes of the stream-json protocol

type lineHeader struct {
	Type string `json:"type"`
}

type streamEventLine struct {
	Event streamEvent `json:"event"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type assistantLine struct {
	Message AssistantMessage `json:"message"`
}

// Classify turns one output line into an Event. Malformed and unknown lines
// become EventRaw; Classify never fails.
func Classify(line []byte) Event {
	ev := Event{Kind: EventRaw, Line: string(line)}

	var hdr lineHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return ev
	}

	switch hdr.Type {
	case "stream_event":
		var se streamEventLine
		if err := json.Unmarshal(line, &se); err != nil {
			return ev
		}
		if text, ok := deltaText(se.Event); ok {
			ev.Kind = EventDelta
			ev.Text = text
		}
	case "content_block_delta":
		// Older CLI builds emit bare deltas without the stream_event envelope.
		var se streamEvent
		if err := json.Unmarshal(line, &se); err != nil {
			return ev
		}
		if text, ok := deltaText(se); ok {
			ev.Kind = EventDelta
			ev.Text = text
		}
	case "assistant":
		var al assistantLine
		if err := json.Unmarshal(line, &al); err != nil {
			return ev
		}
		ev.Kind = EventAssistant
		ev.Assistant = &al.Message
	case "result":
		var rm ResultMessage
		if err := json.Unmarshal(line, &rm); err != nil {
			return ev
		}
		ev.Kind = EventResult
		ev.Result = &rm
	}
	return ev
}

func deltaText(se streamEvent) (string, bool) {
	if se.Type != "content_block_delta" || se.Delta.Type != "text_delta" {
		return "", false
	}
	return se.Delta.Text, true
}
