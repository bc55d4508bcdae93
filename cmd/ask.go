package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/bridge"
	"github.com/samsaffron/claude-wrapper/internal/signal"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	askModel   string
	askSystem  string
	askImages  []string
	askStream  bool
	askText    bool
	askUser    string
	askServer  string
	askToken   string
	askBinary  string
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question through the claude CLI",
	Long: `Send one chat completion request and print the answer.

By default the request runs in-process, exactly as the server would run it.
With --server it is sent to a running claude-wrapper (or any OpenAI-compatible
endpoint) instead.

Examples:
  claude-wrapper ask "What is the capital of France?"
  claude-wrapper ask -m opus "Explain the difference between TCP and UDP"
  claude-wrapper ask --image diagram.png "What does this show?"
  cat error.log | claude-wrapper ask "What went wrong?"
  claude-wrapper ask --server http://127.0.0.1:3456 --token $TOKEN "hello"`,
	RunE: runAsk,
}

func init() {
	AddModelFlag(askCmd, &askModel)
	AddSystemMessageFlag(askCmd, &askSystem)
	AddBackendFlags(askCmd, &askBinary, &askTimeout)
	askCmd.Flags().StringArrayVarP(&askImages, "image", "i", nil, "Image file to attach (repeatable)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "Print the answer as it is generated")
	askCmd.Flags().BoolVarP(&askText, "text", "t", false, "Output plain text instead of rendered markdown")
	askCmd.Flags().StringVar(&askUser, "session", "", "Session key; reuses the backend session across asks")
	askCmd.Flags().StringVar(&askServer, "server", "", "Base URL of a running server (e.g. http://127.0.0.1:3456)")
	askCmd.Flags().StringVar(&askToken, "token", "", "Bearer token for --server")
	rootCmd.AddCommand(askCmd)
}

// askInput is one question in a transport-neutral form.
type askInput struct {
	Model  string
	System string
	Prompt string
	Images []string // data URIs
	User   string
}

// asker sends one question, reporting streamed text to onDelta when set.
type asker interface {
	Ask(ctx context.Context, in askInput, onDelta func(string)) (string, error)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyBackendFlags(cmd, &cfg.Backend, askBinary, askTimeout)

	question := strings.Join(args, " ")
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		piped, err := io.ReadAll(io.LimitReader(os.Stdin, maxRequestBody))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		question = joinQuestion(question, string(piped))
	}
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("no question given (pass it as arguments or on stdin)")
	}

	in := askInput{
		Model:  firstNonEmpty(askModel, cfg.Ask.Model),
		System: firstNonEmpty(askSystem, cfg.Ask.Instructions),
		Prompt: question,
		User:   askUser,
	}
	for _, path := range askImages {
		uri, err := imageDataURI(path)
		if err != nil {
			return err
		}
		in.Images = append(in.Images, uri)
	}

	ctx, stop := signal.WithShutdown(cmd.Context())
	defer stop()

	var client asker
	if askServer != "" {
		client = newRemoteAsker(askServer, firstNonEmpty(askToken, cfg.Serve.Token))
	} else {
		br, store, err := newBridge(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer store.Close()
		client = localAsker{bridge: br}
	}

	out := cmd.OutOrStdout()
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	if askStream {
		answer, err := client.Ask(ctx, in, func(text string) {
			fmt.Fprint(out, text)
		})
		if err != nil {
			return err
		}
		if !strings.HasSuffix(answer, "\n") {
			fmt.Fprintln(out)
		}
		return nil
	}

	answer, err := client.Ask(ctx, in, nil)
	if err != nil {
		return err
	}
	if isTTY && !askText {
		if rendered, err := renderMarkdown(answer, terminalWidth()); err == nil {
			answer = rendered
		} else {
			slog.Debug("markdown render failed", "error", err)
		}
	}
	fmt.Fprint(out, answer)
	if !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func joinQuestion(question, piped string) string {
	piped = strings.TrimRight(piped, "\n")
	switch {
	case strings.TrimSpace(piped) == "":
		return question
	case question == "":
		return piped
	default:
		return question + "\n\n" + piped
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// imageDataURI reads an image file into a data URI.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s does not look like an image (%s)", path, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// chatRequest builds the wire request for in.
func (in askInput) chatRequest(stream bool) (api.ChatRequest, error) {
	req := api.ChatRequest{Model: in.Model, Stream: stream, User: in.User}
	if in.System != "" {
		req.Messages = append(req.Messages, api.TextMessage(api.RoleSystem, in.System))
	}
	if len(in.Images) == 0 {
		req.Messages = append(req.Messages, api.TextMessage(api.RoleUser, in.Prompt))
		return req, nil
	}

	parts := []map[string]any{{"type": "text", "text": in.Prompt}}
	for _, uri := range in.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": uri},
		})
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return req, err
	}
	req.Messages = append(req.Messages, api.ChatMessage{Role: api.RoleUser, Content: raw})
	return req, nil
}

type localAsker struct {
	bridge *bridge.Bridge
}

func (a localAsker) Ask(ctx context.Context, in askInput, onDelta func(string)) (string, error) {
	req, err := in.chatRequest(onDelta != nil)
	if err != nil {
		return "", err
	}
	if onDelta == nil {
		resp, err := a.bridge.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	}

	prep, err := a.bridge.Prepare(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	_, err = a.bridge.Stream(ctx, prep, func(chunk api.ChatCompletionChunk) error {
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				sb.WriteString(choice.Delta.Content)
				onDelta(choice.Delta.Content)
			}
		}
		return nil
	})
	return sb.String(), err
}

type remoteAsker struct {
	client openai.Client
}

func newRemoteAsker(baseURL, token string) remoteAsker {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	if token == "" {
		token = "none"
	}
	return remoteAsker{client: openai.NewClient(
		option.WithBaseURL(base+"/"),
		option.WithAPIKey(token),
	)}
}

func (in askInput) openAIParams() openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(in.Model)}
	if in.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(in.System))
	}
	if len(in.Images) == 0 {
		params.Messages = append(params.Messages, openai.UserMessage(in.Prompt))
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(in.Prompt)}
		for _, uri := range in.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
		}
		params.Messages = append(params.Messages, openai.UserMessage(parts))
	}
	if in.User != "" {
		params.User = openai.String(in.User)
	}
	return params
}

func (a remoteAsker) Ask(ctx context.Context, in askInput, onDelta func(string)) (string, error) {
	params := in.openAIParams()
	if onDelta == nil {
		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				sb.WriteString(choice.Delta.Content)
				onDelta(choice.Delta.Content)
			}
		}
	}
	return sb.String(), stream.Err()
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// renderMarkdown renders an answer for the terminal using glamour
func renderMarkdown(content string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered) + "\n", nil
}
