package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/content"
	"github.com/samsaffron/claude-wrapper/internal/models"
)

// WrapSystem marks text as system instructions inside a user turn.
func WrapSystem(text string) string {
	return "<system>\n" + text + "\n</system>"
}

// WrapPreviousResponse marks an earlier assistant turn as context.
func WrapPreviousResponse(text string) string {
	return "<previous_response>\n" + text + "\n</previous_response>"
}

// inputLine is one stdin line of the stream-json input format.
type inputLine struct {
	Type    string                 `json:"type"`
	Message anthropic.MessageParam `json:"message"`
}

// Encode turns a chat request into backend input. Requests carrying an
// inline image use the structured stdin format; all others pass the prompt
// as a single argument. sessionID is forwarded untouched.
func Encode(req api.ChatRequest, sessionID string) (claudecli.Input, error) {
	in := claudecli.Input{
		Model:     string(models.Resolve(req.Model)),
		SessionID: sessionID,
	}

	var (
		system []string
		turns  []string
		parts  []content.Part
		image  bool
	)
	single := len(req.Messages) == 1 && req.Messages[0].Role == api.RoleUser

	for _, msg := range req.Messages {
		switch msg.Role {
		case api.RoleSystem, api.RoleDeveloper:
			text := content.Normalize(msg.Content)
			if text == "" {
				continue
			}
			system = append(system, text)
			parts = append(parts, content.TextPart(WrapSystem(text)))
		case api.RoleAssistant:
			text := content.Normalize(msg.Content)
			if text == "" {
				continue
			}
			wrapped := WrapPreviousResponse(text)
			turns = append(turns, wrapped)
			parts = append(parts, content.TextPart(wrapped))
		default:
			var text string
			if single {
				text = content.NormalizeInline(msg.Content)
			} else {
				text = content.Normalize(msg.Content)
			}
			if text != "" {
				turns = append(turns, text)
			}
			blocks := content.ToBlocks(msg.Content)
			if content.HasImage(blocks) {
				image = true
			}
			parts = append(parts, blocks...)
		}
	}

	in.SystemPrompt = strings.Join(system, "\n\n")
	conversation := strings.Join(turns, "\n\n")
	if in.SystemPrompt != "" {
		in.Prompt = WrapSystem(in.SystemPrompt) + "\n\n" + conversation
	} else {
		in.Prompt = conversation
	}

	if !image {
		in.Mode = claudecli.ModeText
		return in, nil
	}

	line, err := encodeUserLine(parts)
	if err != nil {
		return claudecli.Input{}, err
	}
	in.Mode = claudecli.ModeStream
	in.Lines = [][]byte{line}
	return in, nil
}

// encodeUserLine collapses all parts into one user message; the stream-json
// input format carries a single role per line.
func encodeUserLine(parts []content.Part) ([]byte, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case content.PartImage:
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							Data:      p.Data,
							MediaType: anthropic.Base64ImageSourceMediaType(p.MediaType),
						},
					},
				},
			})
		default:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}

	line, err := json.Marshal(inputLine{Type: "user", Message: anthropic.NewUserMessage(blocks...)})
	if err != nil {
		return nil, fmt.Errorf("encode stream input: %w", err)
	}
	return line, nil
}
