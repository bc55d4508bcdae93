package claudecli

// Mode selects how the request reaches the backend.
type Mode int

const (
	// ModeText passes the whole prompt as one argument; stdin stays empty.
	ModeText Mode = iota
	// ModeStream writes structured JSON lines to stdin.
	ModeStream
)

func (m Mode) String() string {
	if m == ModeStream {
		return "stream"
	}
	return "text"
}

// SystemPreamble is appended to the backend's system prompt on every call.
const SystemPreamble = "When the user asks for JSON, respond with raw JSON only: no markdown code fences, no commentary before or after the JSON."

// Input is an encoded request ready for the backend.
type Input struct {
	Mode Mode

	// Prompt is transmitted in ModeText.
	Prompt string

	// Lines are transmitted in ModeStream, one per stdin line.
	Lines [][]byte

	// SystemPrompt is informational; ModeText folds it into Prompt and
	// ModeStream folds it into Lines.
	SystemPrompt string

	Model     string
	SessionID string
}

// BuildArgs returns the argument vector for in. The vector is passed to the
// backend directly and never through a shell.
func BuildArgs(in Input) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--model", in.Model,
		"--tools", "",
		"--strict-mcp-config",
		"--disable-slash-commands",
		"--append-system-prompt", SystemPreamble,
	}
	if in.SessionID != "" {
		args = append(args, "--session-id", in.SessionID)
	}
	if in.Mode == ModeStream {
		return append(args, "--input-format", "stream-json")
	}
	// "--" stops flag parsing so a prompt starting with "-" stays a prompt.
	return append(args, "--", in.Prompt)
}
