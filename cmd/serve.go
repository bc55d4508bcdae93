package cmd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gobwas/glob"
	"github.com/samsaffron/claude-wrapper/internal/api"
	"github.com/samsaffron/claude-wrapper/internal/bridge"
	"github.com/samsaffron/claude-wrapper/internal/claudecli"
	"github.com/samsaffron/claude-wrapper/internal/credentials"
	"github.com/samsaffron/claude-wrapper/internal/models"
	"github.com/samsaffron/claude-wrapper/internal/signal"
	"github.com/spf13/cobra"
)

const maxRequestBody = 10 << 20

var (
	serveHost        string
	servePort        int
	serveToken       string
	serveAllowNoAuth bool
	serveCORSOrigins []string
	serveBinary      string
	serveTimeout     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an OpenAI-compatible HTTP server",
	Long: `Run an OpenAI-compatible HTTP server. Every chat completion request
runs the claude CLI once, with no tools, and translates its output.

Endpoints:
  POST /v1/chat/completions
  GET  /v1/models
  GET  /healthz

Flags override the serve.* and backend.* config keys.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Bind host")
	serveCmd.Flags().IntVar(&servePort, "port", 3456, "Bind port")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for API auth (auto-generated if omitted)")
	serveCmd.Flags().BoolVar(&serveAllowNoAuth, "allow-no-auth", false, "Disable auth (only allowed on loopback host)")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin glob (repeatable, or '*' for all)")
	AddBackendFlags(serveCmd, &serveBinary, &serveTimeout)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Serve.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Serve.Port = servePort
	}
	if flags.Changed("token") {
		cfg.Serve.Token = serveToken
	}
	if flags.Changed("allow-no-auth") {
		cfg.Serve.AllowNoAuth = serveAllowNoAuth
	}
	if flags.Changed("cors-origin") {
		cfg.Serve.CORSOrigins = serveCORSOrigins
	}
	applyBackendFlags(cmd, &cfg.Backend, serveBinary, serveTimeout)

	if cfg.Serve.Port <= 0 || cfg.Serve.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Serve.Port)
	}

	requireAuth := !cfg.Serve.AllowNoAuth
	if !requireAuth && !isLoopbackHost(cfg.Serve.Host) {
		return fmt.Errorf("--allow-no-auth is only allowed on loopback hosts (got %q)", cfg.Serve.Host)
	}

	token := strings.TrimSpace(cfg.Serve.Token)
	if requireAuth && token == "" {
		generated, err := generateServeToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		token = generated
	}

	origins, err := compileOrigins(cfg.Serve.CORSOrigins)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext()
	defer stop()

	logger := slog.Default()
	br, store, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	s := &serveServer{
		cfg: serveServerConfig{
			host:           cfg.Serve.Host,
			port:           cfg.Serve.Port,
			requireAuth:    requireAuth,
			token:          token,
			corsOrigins:    origins,
			requestTimeout: cfg.Serve.RequestTimeout,
			binary:         cfg.Backend.Binary,
		},
		bridge: br,
		logger: logger,
	}

	if err := s.Start(); err != nil {
		return err
	}

	printServeBanner(cmd.ErrOrStderr(), s.cfg)
	if _, err := exec.LookPath(cfg.Backend.Binary); err != nil {
		logger.Warn("claude CLI not found; requests will fail until it is installed",
			"binary", cfg.Backend.Binary, "hint", claudecli.InstallHint)
	}
	if login, err := credentials.CheckClaudeLogin(); err == nil && !login.LoggedIn {
		logger.Warn("claude CLI has no stored sign-in; run `claude` once to sign in", "checked", login.Source)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func printServeBanner(w io.Writer, cfg serveServerConfig) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(8)

	fmt.Fprintln(w, title.Render("claude-wrapper serve")+" listening on http://"+net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)))
	fmt.Fprintln(w, label.Render("auth:")+authSummary(cfg.requireAuth))
	if cfg.requireAuth {
		fmt.Fprintln(w, label.Render("token:")+cfg.token)
	}
	fmt.Fprintln(w, label.Render("backend:")+cfg.binary)
}

func authSummary(required bool) string {
	if required {
		return "bearer required"
	}
	return "disabled"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

func generateServeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// originMatcher matches request origins against configured glob patterns.
type originMatcher struct {
	allowAll bool
	patterns []glob.Glob
}

func compileOrigins(origins []string) (originMatcher, error) {
	var m originMatcher
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			m.allowAll = true
			continue
		}
		g, err := glob.Compile(o)
		if err != nil {
			return m, fmt.Errorf("invalid CORS origin pattern %q: %w", o, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

func (m originMatcher) match(origin string) bool {
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

type serveServerConfig struct {
	host           string
	port           int
	requireAuth    bool
	token          string
	corsOrigins    originMatcher
	requestTimeout time.Duration
	binary         string
}

type serveServer struct {
	cfg    serveServerConfig
	bridge *bridge.Bridge
	logger *slog.Logger
	server *http.Server
}

func (s *serveServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/models", s.cors(s.auth(s.handleModels)))
	mux.HandleFunc("/v1/chat/completions", s.cors(s.auth(s.handleChatCompletions)))
	return mux
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeOpenAIError(w, http.StatusMethodNotAllowed, api.ErrorDetail{Type: "invalid_request_error", Message: "method not allowed"})
		return
	}
	_, err := exec.LookPath(s.cfg.binary)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"backend":       s.cfg.binary,
		"backend_found": err == nil,
	})
}

func (s *serveServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.requireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			writeOpenAIError(w, http.StatusUnauthorized, api.ErrorDetail{Type: "invalid_api_key", Message: "invalid authentication credentials"})
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.token)) != 1 {
			writeOpenAIError(w, http.StatusUnauthorized, api.ErrorDetail{Type: "invalid_api_key", Message: "invalid authentication credentials"})
			return
		}
		next(w, r)
	}
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	origins := s.cfg.corsOrigins
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if origins.allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origins.match(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, session_id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (s *serveServer) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeOpenAIError(w, http.StatusMethodNotAllowed, api.ErrorDetail{Type: "invalid_request_error", Message: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, api.ModelList{Object: "list", Data: models.List()})
}

func (s *serveServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeOpenAIError(w, http.StatusMethodNotAllowed, api.ErrorDetail{Type: "invalid_request_error", Message: "method not allowed"})
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeOpenAIError(w, http.StatusUnsupportedMediaType, api.ErrorDetail{Type: "invalid_request_error", Message: err.Error()})
		return
	}

	ctx := r.Context()
	if s.cfg.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.requestTimeout)
		defer cancel()
	}

	var req api.ChatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, api.ErrorDetail{Type: "invalid_request_error", Message: err.Error()})
		return
	}
	if req.User == "" {
		req.User = strings.TrimSpace(r.Header.Get("session_id"))
	}

	prep, err := s.bridge.Prepare(ctx, req)
	if err != nil {
		s.writeBridgeError(ctx, w, r, err)
		return
	}
	log := s.logger.With("request_id", prep.ID)
	log.Debug("chat completion", "model", prep.Model, "mode", prep.Input.Mode, "stream", req.Stream, "messages", len(req.Messages))

	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		s.streamChatCompletions(ctx, w, r, prep, includeUsage)
		return
	}

	resp, err := s.bridge.CompletePrepared(ctx, prep)
	if err != nil {
		s.writeBridgeError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *serveServer) streamChatCompletions(ctx context.Context, w http.ResponseWriter, r *http.Request, prep *bridge.Prepared, includeUsage bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, http.StatusInternalServerError, api.ErrorDetail{Type: "server_error", Message: "streaming not supported"})
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
	}

	usage, err := s.bridge.Stream(ctx, prep, func(chunk api.ChatCompletionChunk) error {
		begin()
		if err := writeChatStreamChunk(w, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !started {
			s.writeBridgeError(ctx, w, r, err)
			return
		}
		if r.Context().Err() != nil {
			s.logger.Debug("client went away mid-stream", "request_id", prep.ID)
			return
		}
		_, detail := classifyError(ctx, err)
		_ = writeChatStreamChunk(w, bridge.ErrorChunk(prep.ID, prep.Model, prep.Created, detail))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	begin()
	if includeUsage {
		_ = writeChatStreamChunk(w, bridge.UsageChunk(prep.ID, prep.Model, prep.Created, usage))
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeBridgeError maps a bridge failure to an HTTP error response. Nothing
// is written when the client already disconnected.
func (s *serveServer) writeBridgeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		s.logger.Debug("client went away", "error", err)
		return
	}
	status, detail := classifyError(ctx, err)
	if status >= 500 {
		s.logger.Warn("chat completion failed", "status", status, "error", err)
	}
	writeOpenAIError(w, status, detail)
}

// classifyError returns the HTTP status and error body for err. ctx is the
// request context, used to tell a request timeout from other terminations.
func classifyError(ctx context.Context, err error) (int, api.ErrorDetail) {
	var (
		spawnErr  *claudecli.SpawnError
		exitErr   *claudecli.ExitError
		resultErr *bridge.ResultError
	)
	detail := api.ErrorDetail{Message: err.Error()}
	switch {
	case errors.Is(err, bridge.ErrInvalidRequest):
		detail.Type = "invalid_request_error"
		return http.StatusBadRequest, detail
	case errors.Is(err, claudecli.ErrBackendNotFound):
		detail.Type, detail.Code = "server_error", "backend_not_found"
		return http.StatusServiceUnavailable, detail
	case errors.As(err, &spawnErr):
		detail.Type, detail.Code = "server_error", "backend_spawn_failed"
		return http.StatusInternalServerError, detail
	case errors.Is(err, claudecli.ErrTimeout),
		errors.Is(err, claudecli.ErrKilled) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		detail.Type, detail.Code = "timeout_error", "backend_timeout"
		return http.StatusGatewayTimeout, detail
	case errors.As(err, &exitErr):
		detail.Type, detail.Code = "upstream_error", "backend_exit"
		return http.StatusBadGateway, detail
	case errors.Is(err, claudecli.ErrNoResult):
		detail.Type, detail.Code = "upstream_error", "backend_no_result"
		return http.StatusBadGateway, detail
	case errors.As(err, &resultErr):
		detail.Type, detail.Code = "upstream_error", "backend_error"
		return http.StatusBadGateway, detail
	default:
		detail.Type = "server_error"
		return http.StatusInternalServerError, detail
	}
}

func writeChatStreamChunk(w io.Writer, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeOpenAIError(w http.ResponseWriter, status int, detail api.ErrorDetail) {
	writeJSON(w, status, api.ErrorResponse{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
