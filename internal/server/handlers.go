package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sprite-ai/spritegate/internal/files"
	"github.com/sprite-ai/spritegate/internal/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.Len(),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess := s.deps.Registry.Get(userID)
	if sess == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live session for user")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.restFilesService(w, r)
	if !ok {
		return
	}
	tree, err := svc.Tree(r.URL.Query().Get("path"))
	if err != nil {
		writeFilesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// handleFileFlat serves a non-recursive directory listing for lazy-loading
// clients that expand the tree one level at a time.
func (s *Server) handleFileFlat(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.restFilesService(w, r)
	if !ok {
		return
	}
	entries, err := svc.Flat(r.URL.Query().Get("path"))
	if err != nil {
		writeFilesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.restFilesService(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path query parameter is required")
		return
	}
	content, err := svc.Read(path)
	if err != nil {
		writeFilesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) restFilesService(w http.ResponseWriter, r *http.Request) (*files.Service, bool) {
	userID := chi.URLParam(r, "userID")
	sess := s.deps.Registry.Get(userID)
	if sess == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live session for user")
		return nil, false
	}
	dir, ready := sess.Workspace()
	if !ready {
		writeError(w, http.StatusConflict, ErrCodeNotReady, "workspace is still initializing")
		return nil, false
	}
	return files.NewService(dir, s.deps.IgnorePatterns), true
}

func writeFilesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, files.ErrAccessDenied):
		writeError(w, http.StatusForbidden, ErrCodeAccessDenied, err.Error())
	case errors.Is(err, files.ErrNotDirectory), errors.Is(err, files.ErrIsDirectory):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		logging.Error().Err(err).Msg("files request failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}

// handleAuthRefresh exchanges a valid refresh token for a fresh pair.
// Issuing tokens from credentials stays external; this only re-signs an
// identity the resolver already trusts.
func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Resolver.Enabled() {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "token auth is disabled")
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "refresh_token is required")
		return
	}
	pair, err := s.deps.Resolver.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "history is disabled")
		return
	}
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := s.deps.History.Recent(userID, limit)
	if err != nil {
		logging.Error().Err(err).Str("user", userID).Msg("history load failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "history is disabled")
		return
	}
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	convs, err := s.deps.History.Conversations(userID, limit)
	if err != nil {
		logging.Error().Err(err).Str("user", userID).Msg("conversations load failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}
