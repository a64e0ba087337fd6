package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/auth"
	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/snapshot"
)

const maxLoginBody = 1 << 16

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Configured() {
		writeError(w, http.StatusServiceUnavailable, "Admin credentials are not configured")
		return
	}
	var req loginRequest
	// An unreadable body is treated as empty credentials.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		req = loginRequest{}
	}
	if !s.gate.CheckCredentials(req.User, req.Password) {
		s.logger.Warn("admin login rejected", zap.String("request_id", RequestID(r.Context())))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	http.SetCookie(w, s.gate.IssueCookie(s.gate.User()))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.gate.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":            false,
			"authenticated": false,
			"error":         "Admin credentials are not configured",
		})
		return
	}
	user, ok := s.gate.Authenticated(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "authenticated": true, "user": user})
}

func (s *Server) adminContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := s.snapshots.GetDraft(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if draft != nil && draft.Payload != nil {
		writeJSON(w, http.StatusOK, snapshotResponse{OK: true, Source: "draft", SyncedAt: draft.SyncedAt, Payload: draft.Payload})
		return
	}
	published, err := s.snapshots.GetPublished(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if published != nil && published.Payload != nil {
		writeJSON(w, http.StatusOK, snapshotResponse{
			OK:          true,
			Source:      "published",
			PublishedAt: published.PublishedAt,
			Payload:     published.Payload,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"source":    "empty",
		"version":   content.PayloadVersion,
		"updatedAt": s.now().UTC().Format(timestampLayout),
		"groups":    []content.Group{},
	})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if missing := s.missing(); len(missing) > 0 {
		writeMissing(w, missing)
		return
	}
	ctx := r.Context()
	payload, err := s.content.Get(ctx, false, true)
	if err != nil {
		writeBuildError(w, err)
		return
	}
	if payload.Stale {
		s.logger.Warn("sync refresh failed, draft left unchanged", zap.String("reason", payload.StaleReason))
		writeError(w, http.StatusInternalServerError, payload.StaleReason)
		return
	}
	draft, err := s.snapshots.SetDraft(ctx, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	groups, items := payload.Counts()
	user, _ := auth.UserFromContext(ctx)
	s.logger.Info("draft synced", zap.String("user", user), zap.Int("groups", groups), zap.Int("items", items))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"draftSyncedAt": draft.SyncedAt,
		"groups":        groups,
		"items":         items,
		"payload":       draft.Payload,
	})
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	published, err := s.snapshots.PublishDraft(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, snapshot.ErrNoDraft) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	groups, items := published.Payload.Counts()
	user, _ := auth.UserFromContext(r.Context())
	s.logger.Info("draft published", zap.String("user", user), zap.Int("groups", groups), zap.Int("items", items))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"publishedAt":   published.PublishedAt,
		"draftSyncedAt": published.SyncedAt,
		"groups":        groups,
		"items":         items,
	})
}
