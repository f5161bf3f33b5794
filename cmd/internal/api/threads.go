package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/ingest"
	"relay/cmd/internal/threads"
)

func (h *Handler) handleCreateThread(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	var req threadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	t, err := h.threads.Create(r.Context(), h.now(), claims.UserID, req.Title)
	if err != nil {
		h.writeThreadErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, threadEnvelope{Thread: t})
}

func (h *Handler) handleListThreads(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	limit, ok := parseLimit(r, threads.MaxPageLen)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer in range")
		return
	}
	if limit == 0 {
		limit = threads.DefaultPageLen
	}
	list, err := h.threads.List(r.Context(), claims.UserID, r.URL.Query().Get("before"), limit)
	if err != nil {
		h.writeThreadErr(w, err)
		return
	}

	out := threadList{Threads: list}
	if out.Threads == nil {
		out.Threads = []threads.Thread{}
	}
	if len(list) == limit {
		out.NextBefore = list[len(list)-1].ID
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetThread(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	t, err := h.threads.Get(r.Context(), claims.UserID, r.PathValue("id"))
	if err != nil {
		h.writeThreadErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadEnvelope{Thread: t})
}

func (h *Handler) handleRenameThread(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	var req threadRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	t, err := h.threads.Rename(r.Context(), h.now(), claims.UserID, r.PathValue("id"), req.Title)
	if err != nil {
		h.writeThreadErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadEnvelope{Thread: t})
}

func (h *Handler) handleDeleteThread(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	if err := h.threads.Delete(r.Context(), claims.UserID, r.PathValue("id")); err != nil {
		h.writeThreadErr(w, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	limit, ok := parseLimit(r, ingest.MaxHistoryLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer in range")
		return
	}
	msgs, err := h.messages.ListMessages(r.Context(), claims.UserID, r.PathValue("id"), r.URL.Query().Get("before"), limit)
	if err != nil {
		h.writeMessageErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []ingest.Message{}
	}
	writeJSON(w, http.StatusOK, messageList{Messages: msgs})
}

func (h *Handler) handleGetMessage(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	m, err := h.messages.GetMessage(r.Context(), claims.UserID, r.PathValue("id"), r.PathValue("message_id"))
	if err != nil {
		h.writeMessageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageEnvelope{Message: m})
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	var req postMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	reply, err := h.messages.Submit(r.Context(), ingest.SubmitInput{
		ThreadID:        r.PathValue("id"),
		UserID:          claims.UserID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		h.writeMessageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageEnvelope{Message: reply})
}

// parseLimit reads ?limit=. Absent gives 0; out of 1..max is rejected.
func parseLimit(r *http.Request, max int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}

func (h *Handler) writeThreadErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, threads.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
	case errors.Is(err, threads.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, "invalid_title", "title must be 1 to 200 characters")
	default:
		h.log.Error("api.threads.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) writeMessageErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, threads.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
	case errors.Is(err, ingest.ErrNoMessage):
		writeError(w, http.StatusNotFound, "not_found", "message not found")
	case errors.Is(err, ingest.ErrMissingDedupKey):
		writeError(w, http.StatusBadRequest, "missing_client_message_id", "client_message_id is required")
	case errors.Is(err, ingest.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, "invalid_content", "content must be 1 to 8000 characters")
	case errors.Is(err, ingest.ErrCanceled):
		writeError(w, http.StatusConflict, "generation_canceled", "generation was canceled")
	default:
		h.log.Error("api.messages.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
