package bridge

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/models"
)

// DefaultModel names responses whose result carries no per-model usage.
const DefaultModel = models.PublicSonnet

// Stringify reduces loosely typed content to a string: strings pass
// through, null becomes empty, block arrays join their text, and anything
// else is rendered as JSON.
func Stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '[':
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err == nil {
			var sb strings.Builder
			for _, b := range blocks {
				sb.WriteString(blockText(b))
			}
			return sb.String()
		}
	}

	slog.Warn("stringifying unexpected content shape", "content", truncate(string(raw), 120))
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func blockText(raw json.RawMessage) string {
	var block struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	if block.Type != "" && block.Type != "text" {
		return ""
	}
	return block.Text
}

// ResultModel picks the public model name for a result.
func ResultModel(res *claudecli.ResultMessage) string {
	if res == nil || len(res.ModelUsage) == 0 {
		return DefaultModel
	}
	return models.PublicName(res.ModelUsage[0].Model)
}

// ResultUsage converts reported token counts into response usage.
func ResultUsage(res *claudecli.ResultMessage) api.Usage {
	var u api.Usage
	if res != nil && res.Usage != nil {
		u.PromptTokens = res.Usage.InputTokens
		u.CompletionTokens = res.Usage.OutputTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// Decode builds the aggregated response for a result event.
func Decode(res *claudecli.ResultMessage, id string, created int64) api.ChatCompletion {
	var text string
	if res != nil {
		text = Stringify(res.Result)
	}
	return api.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   ResultModel(res),
		Choices: []api.Choice{{
			Index:        0,
			Message:      api.ResponseMessage{Role: api.RoleAssistant, Content: text},
			FinishReason: api.FinishStop,
		}},
		Usage: ResultUsage(res),
	}
}

// FinishReason maps a backend stop reason onto a finish reason. An empty
// stop reason yields an empty finish reason.
func FinishReason(stopReason string) string {
	switch stopReason {
	case "":
		return ""
	case string(anthropic.StopReasonMaxTokens):
		return api.FinishLength
	default:
		return api.FinishStop
	}
}

// ToChunk renders text as a streamed chunk. The role is set only on the
// first chunk; a non-empty stop reason closes the choice.
func ToChunk(text, stopReason, id, model string, created int64, first bool) api.ChatCompletionChunk {
	chunk := newChunk(id, model, created)
	if first {
		chunk.Choices[0].Delta.Role = api.RoleAssistant
	}
	chunk.Choices[0].Delta.Content = text
	if reason := FinishReason(stopReason); reason != "" {
		chunk.Choices[0].FinishReason = &reason
	}
	return chunk
}

// DoneChunk is the terminal empty chunk carrying the stop signal.
func DoneChunk(id, model string, created int64) api.ChatCompletionChunk {
	chunk := newChunk(id, model, created)
	reason := api.FinishStop
	chunk.Choices[0].FinishReason = &reason
	return chunk
}

// UsageChunk carries usage totals with no choices.
func UsageChunk(id, model string, created int64, usage api.Usage) api.ChatCompletionChunk {
	return api.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []api.ChunkChoice{},
		Usage:   &usage,
	}
}

// ErrorChunk reports a failure after streaming has started.
func ErrorChunk(id, model string, created int64, detail api.ErrorDetail) api.ChatCompletionChunk {
	chunk := newChunk(id, model, created)
	reason := api.FinishError
	chunk.Choices[0].FinishReason = &reason
	chunk.Error = &detail
	return chunk
}

func newChunk(id, model string, created int64) api.ChatCompletionChunk {
	return api.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []api.ChunkChoice{{Index: 0}},
	}
}

// Streamer turns process events into chunks for one response.
type Streamer struct {
	ID      string
	Model   string
	Created int64

	sent     bool
	streamed bool
	finished bool
}

// Delta renders a content delta. Empty fragments produce no chunk.
func (s *Streamer) Delta(text string) (api.ChatCompletionChunk, bool) {
	if text == "" || s.finished {
		return api.ChatCompletionChunk{}, false
	}
	chunk := ToChunk(text, "", s.ID, s.Model, s.Created, !s.sent)
	s.sent = true
	s.streamed = true
	return chunk, true
}

// Assistant renders a full assistant message. When deltas already carried
// its text only the stop signal is emitted.
func (s *Streamer) Assistant(msg *claudecli.AssistantMessage) (api.ChatCompletionChunk, bool) {
	if msg == nil || s.finished {
		return api.ChatCompletionChunk{}, false
	}
	text := ""
	if !s.streamed {
		text = Stringify(msg.Content)
	}
	if text == "" && msg.StopReason == "" {
		return api.ChatCompletionChunk{}, false
	}
	chunk := ToChunk(text, msg.StopReason, s.ID, s.Model, s.Created, !s.sent)
	s.sent = true
	if text != "" {
		s.streamed = true
	}
	if chunk.Choices[0].FinishReason != nil {
		s.finished = true
	}
	return chunk, true
}

// Done returns the terminal chunk unless a stop signal was already sent.
func (s *Streamer) Done() (api.ChatCompletionChunk, bool) {
	if s.finished {
		return api.ChatCompletionChunk{}, false
	}
	s.finished = true
	chunk := DoneChunk(s.ID, s.Model, s.Created)
	if !s.sent {
		chunk.Choices[0].Delta.Role = api.RoleAssistant
		s.sent = true
	}
	return chunk, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
