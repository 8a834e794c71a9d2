package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/itstheanurag/coderunner/internal/executor"
	"github.com/itstheanurag/coderunner/internal/languages"
	"github.com/itstheanurag/coderunner/internal/queue"
	"github.com/itstheanurag/coderunner/internal/runlog"
	"github.com/itstheanurag/coderunner/internal/workspace"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type ExecutionRequest struct {
	Language      string          `json:"language"`
	SourceCode    string          `json:"source_code"`
	Files         []executor.File `json:"files"`
	Stdin         string          `json:"stdin"`
	CompilerFlags string          `json:"compiler_flags"`
	Args          []string        `json:"args"`
	TimeLimitMs   int64           `json:"time_limit_ms"`
	MemoryLimitKb int64           `json:"memory_limit_kb"`
}

type LanguageInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Extension string   `json:"extension"`
	Compiled  bool     `json:"compiled"`
	Aliases   []string `json:"aliases,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	queueManager *queue.Manager
	registry     *languages.Registry
	history      *runlog.Log
	maxWait      time.Duration
	logger       *zerolog.Logger
}

// NewHandler wires the HTTP surface. maxWait bounds how long a request waits
// for its result, queueing included.
func NewHandler(manager *queue.Manager, registry *languages.Registry, history *runlog.Log, maxWait time.Duration, logger *zerolog.Logger) *Handler {
	return &Handler{
		queueManager: manager,
		registry:     registry,
		history:      history,
		maxWait:      maxWait,
		logger:       logger,
	}
}

// Register mounts the routes on r. wrap is applied to the execute route only.
func (h *Handler) Register(r *mux.Router, wrap func(http.Handler) http.Handler) {
	r.Handle("/execute", wrap(http.HandlerFunc(h.Execute))).Methods(http.MethodPost)
	r.HandleFunc("/languages", h.Languages).Methods(http.MethodGet)
	r.HandleFunc("/logs", h.Logs).Methods(http.MethodGet)
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Language == "" && len(req.Files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "language is required"})
		return
	}
	if req.TimeLimitMs < 0 || req.MemoryLimitKb < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limits must not be negative"})
		return
	}
	if err := validateFiles(req.Files); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sub := executor.Submission{
		Language:      req.Language,
		Source:        req.SourceCode,
		Files:         req.Files,
		Stdin:         req.Stdin,
		CompilerFlags: strings.Fields(req.CompilerFlags),
		Args:          req.Args,
		TimeLimit:     time.Duration(req.TimeLimitMs) * time.Millisecond,
		MemoryLimitKb: req.MemoryLimitKb,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.maxWait)
	defer cancel()

	res, err := h.queueManager.Execute(ctx, sub)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server busy, try again later"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "execution timed out"})
	case err != nil:
		// client went away
		h.logger.Debug().Err(err).Msg("request abandoned")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// validateFiles rejects names that could never be materialized. Collisions
// with a language's own source file are caught later by the executor.
func validateFiles(files []executor.File) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if err := workspace.ValidateName(f.Name); err != nil {
			return err
		}
		name := filepath.Clean(f.Name)
		if seen[name] {
			return fmt.Errorf("duplicate file %q", f.Name)
		}
		seen[name] = true
	}
	return nil
}

func (h *Handler) Languages(w http.ResponseWriter, _ *http.Request) {
	langs := h.registry.List()
	out := make([]LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageInfo{
			ID:        l.ID,
			Name:      l.Name,
			Extension: l.Extension,
			Compiled:  l.Compiled(),
			Aliases:   l.Aliases,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Logs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.history.Recent())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
