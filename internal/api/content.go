package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/hash/sha256"
)

const (
	publicCacheControl = "public, max-age=20, stale-while-revalidate=60"
	timestampLayout    = "2006-01-02T15:04:05.000Z07:00"
)

// snapshotResponse flattens a snapshot payload next to its slot metadata.
type snapshotResponse struct {
	OK          bool       `json:"ok"`
	Source      string     `json:"source"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	*content.Payload
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": s.service,
		"now":     s.now().UTC().Format(timestampLayout),
	})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if missing := s.missing(); len(missing) > 0 {
		writeMissing(w, missing)
		return
	}

	q := r.URL.Query()
	preview := q.Get("preview") == "1"
	force := q.Get("refresh") == "1"
	if !preview && !s.limiter.AllowRequest(r) {
		writeError(w, http.StatusTooManyRequests, "Too many requests. Try again shortly.")
		return
	}

	payload, err := s.content.Get(r.Context(), preview, force)
	if err != nil {
		s.logger.Warn("content request failed", zap.Bool("preview", preview), zap.Error(err))
		writeBuildError(w, err)
		return
	}
	w.Header().Set("Cache-Control", publicCacheControl)
	s.writeCacheable(w, r, payload)
}

func (s *Server) getPublished(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.GetPublished(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil || snap.Payload == nil {
		w.Header().Set("Cache-Control", "no-store")
		writeError(w, http.StatusNotFound, "No published snapshot")
		return
	}
	w.Header().Set("Cache-Control", publicCacheControl)
	s.writeCacheable(w, r, snapshotResponse{
		OK:          true,
		Source:      "published",
		PublishedAt: snap.PublishedAt,
		Payload:     snap.Payload,
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if missing := s.missing(); len(missing) > 0 {
		writeMissing(w, missing)
		return
	}
	payload, err := s.content.Get(r.Context(), false, true)
	if err != nil {
		writeBuildError(w, err)
		return
	}
	if payload.Stale {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":        false,
			"error":     payload.StaleReason,
			"stale":     true,
			"updatedAt": payload.UpdatedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"updatedAt": payload.UpdatedAt,
		"groups":    len(payload.Groups),
	})
}

// writeCacheable writes body with a strong ETag and answers a matching
// If-None-Match with 304.
func (s *Server) writeCacheable(w http.ResponseWriter, r *http.Request, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tag := sha256.ETag(data)
	w.Header().Set("ETag", tag)
	if etagMatches(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}
