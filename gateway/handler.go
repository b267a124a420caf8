package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Songmu/flextime"
	"github.com/fujiwara/ridge"
	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/rate"
)

const (
	ChatPath   = "/api/chat"
	ToolsPath  = "/api/tools"
	HealthPath = "/health"

	msgPromptRequired   = "Prompt is required"
	msgToolsUnavailable = "MCP server not available"
	msgInternalError    = "Internal server error"
)

// Runner runs one prompt through the model/tool loop.
type Runner interface {
	Run(ctx context.Context, tools fxchat.ToolExecutor, prompt string) (*fxchat.Result, error)
}

type HandlerConfig struct {
	Runner Runner
	// Tools is the shared tool-execution channel. nil means not connected.
	Tools                   fxchat.ToolExecutor
	RequestTimeout          time.Duration
	ErrorHandler            func(w http.ResponseWriter, r *http.Request, message string, code int)
	MethodNotAllowedHandler func(w http.ResponseWriter, r *http.Request)
	NotFoundHandler         func(w http.ResponseWriter, r *http.Request)
	Logger                  *slog.Logger
}

type Handler struct {
	cfg *HandlerConfig
	mux *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	h := &Handler{
		cfg: &cfg,
		mux: http.NewServeMux(),
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, message string, code int) {
			writeJSON(w, code, map[string]any{"error": message})
		}
	}
	if cfg.NotFoundHandler == nil {
		cfg.NotFoundHandler = func(w http.ResponseWriter, r *http.Request) {
			cfg.ErrorHandler(w, r, fmt.Sprintf("the requested resource %q was not found", r.URL.Path), http.StatusNotFound)
		}
	}
	if cfg.MethodNotAllowedHandler == nil {
		cfg.MethodNotAllowedHandler = func(w http.ResponseWriter, r *http.Request) {
			cfg.ErrorHandler(w, r, fmt.Sprintf("the requested resource %q does not support the method %q", r.URL.Path, r.Method), http.StatusMethodNotAllowed)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	}
	h.mux.HandleFunc(ChatPath, h.allow(http.MethodPost, h.serveChat))
	h.mux.HandleFunc(ToolsPath, h.allow(http.MethodGet, h.serveTools))
	h.mux.HandleFunc(HealthPath, h.allow(http.MethodGet, h.serveHealth))
	return h, nil
}

func (h *Handler) allow(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			h.cfg.MethodNotAllowedHandler(w, r)
			return
		}
		next(w, r)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := flextime.Now()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		h.cfg.Logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"elapsed", flextime.Now().Sub(start),
		)
	}()
	if r.RequestURI == "*" {
		if r.ProtoAtLeast(1, 1) {
			rw.Header().Set("Connection", "close")
		}
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	matched, pattern := h.mux.Handler(r)
	if pattern == "" {
		h.cfg.NotFoundHandler(rw, r)
		return
	}
	matched.ServeHTTP(rw, r)
}

// ListenAndServe serves on addr locally, or as an AWS Lambda function when running there.
func (h *Handler) ListenAndServe(addr string) {
	ridge.Run(addr, "/", h)
}

type ChatRequest struct {
	Prompt string `json:"prompt"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	MCPConnected bool   `json:"mcp_connected"`
	Timestamp    string `json:"timestamp"`
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.cfg.Logger.WarnContext(ctx, "failed to decode request body", "details", err)
		h.cfg.ErrorHandler(w, r, msgPromptRequired, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		h.cfg.ErrorHandler(w, r, msgPromptRequired, http.StatusBadRequest)
		return
	}
	if h.cfg.Tools == nil {
		h.cfg.ErrorHandler(w, r, msgToolsUnavailable, http.StatusServiceUnavailable)
		return
	}
	if h.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RequestTimeout)
		defer cancel()
	}
	result, err := h.cfg.Runner.Run(ctx, h.cfg.Tools, req.Prompt)
	if err != nil {
		if errors.Is(err, fxchat.ErrToolsUnavailable) {
			h.cfg.ErrorHandler(w, r, msgToolsUnavailable, http.StatusServiceUnavailable)
			return
		}
		h.cfg.Logger.ErrorContext(ctx, "chat failed", "details", err)
		h.cfg.ErrorHandler(w, r, msgInternalError, http.StatusInternalServerError)
		return
	}
	h.cfg.Logger.InfoContext(ctx, "chat completed",
		"model", result.Model,
		"round_trips", result.RoundTrips,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)
	writeJSON(w, http.StatusOK, ChatResponse{Response: result.Text})
}

func (h *Handler) serveTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cfg.Tools == nil {
		h.cfg.ErrorHandler(w, r, msgToolsUnavailable, http.StatusServiceUnavailable)
		return
	}
	tools, err := h.cfg.Tools.ListTools(ctx)
	if err != nil {
		h.cfg.Logger.ErrorContext(ctx, "list tools failed", "details", err)
		h.cfg.ErrorHandler(w, r, msgInternalError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		MCPConnected: h.cfg.Tools != nil,
		Timestamp:    flextime.Now().UTC().Format(rate.TimestampFormat),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
