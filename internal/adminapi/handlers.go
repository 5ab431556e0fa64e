package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"guildwatch/internal/config"
	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

var (
	errNotSupported = errors.New("not supported by the configured store")
	errLeaseLive    = errors.New("lease still live; cursor kept")
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status": "ok",
		"leases": len(s.deps.Engine.Leases()),
	}
	if rep, ok := s.deps.Engine.LastReconcile(); ok {
		out["last_reconcile"] = rep.At
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Leases())
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Engine.Reconcile(r.Context())
	switch {
	case errors.Is(err, watch.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil && !errors.Is(err, watch.ErrProviderFailed):
		writeError(w, http.StatusInternalServerError, err)
	default:
		// provider failures are reported in the body
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.deps.Engine.RunOnce(r.Context(), key)
	switch {
	case errors.Is(err, watch.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, watch.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, watch.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.History())
}

func (s *Server) handleCursors(w http.ResponseWriter, r *http.Request) {
	tenant := pathParam(r, "tenant")
	list, err := s.deps.Cursors.ListCursors(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Targets == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	tenant := pathParam(r, "tenant")
	out := []storage.TargetRecord{}
	for _, k := range watch.Kinds {
		recs, err := s.deps.Targets.ListTargets(r.Context(), k)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, rec := range recs {
			if rec.Key.TenantID == tenant {
				out = append(out, rec)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type targetBody struct {
	Enabled   *bool             `json:"enabled"`
	Interval  string            `json:"interval"`
	ChannelID int64             `json:"channel_id"`
	ThreadID  int               `json:"thread_id"`
	UserID    int64             `json:"user_id"`
	Settings  map[string]string `json:"settings"`
}

func (s *Server) handlePutTarget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Targets == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	key, err := keyFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body targetBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	every, err := config.ParseDurationField("interval", body.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec := storage.TargetRecord{
		Key:         key,
		Enabled:     body.Enabled == nil || *body.Enabled,
		Interval:    every,
		Destination: watch.Destination{ChannelID: body.ChannelID, ThreadID: body.ThreadID, UserID: body.UserID},
		Settings:    body.Settings,
		UpdatedAt:   s.deps.Now(),
	}
	// disabled rows may be incomplete
	if rec.Enabled {
		if err := s.deps.Engine.Validate(rec.Target()); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.deps.Targets.PutTarget(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("target saved", logx.String("key", key.String()), logx.Bool("enabled", rec.Enabled))
	s.deps.Engine.Trigger()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Targets == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	key, err := keyFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Targets.DeleteTarget(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// The lease must be gone before the cursor: a live cycle would write it back.
	_, err = s.deps.Engine.Reconcile(r.Context())
	if err != nil && !errors.Is(err, watch.ErrStopped) && !errors.Is(err, watch.ErrProviderFailed) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.leased(key) {
		s.log.Warn("target deleted but its lease is still live; cursor kept", logx.String("key", key.String()))
		writeError(w, http.StatusServiceUnavailable, errLeaseLive)
		return
	}
	if err := s.deps.Cursors.DeleteCursor(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("target deleted", logx.String("key", key.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) leased(key watch.Key) bool {
	for _, li := range s.deps.Engine.Leases() {
		if li.Key == key {
			return true
		}
	}
	return false
}

func (s *Server) handleTopScores(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scores == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	list, err := s.deps.Scores.TopScores(r.Context(), pathParam(r, "tenant"), pathParam(r, "board"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scores == nil {
		writeError(w, http.StatusNotImplemented, errNotSupported)
		return
	}
	var e storage.ScoreEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if e.UserID == 0 {
		writeError(w, http.StatusBadRequest, errors.New("user_id required"))
		return
	}
	e.UpdatedAt = s.deps.Now()
	if err := s.deps.Scores.AddScore(r.Context(), pathParam(r, "tenant"), pathParam(r, "board"), e); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		v = u
	}
	return strings.TrimSpace(v)
}

func keyFromPath(r *http.Request) (watch.Key, error) {
	kind, err := watch.ParseKind(pathParam(r, "kind"))
	if err != nil {
		return watch.Key{}, err
	}
	key := watch.Key{TenantID: pathParam(r, "tenant"), Kind: kind, EntityKey: pathParam(r, "entity")}
	if key.TenantID == "" || key.EntityKey == "" {
		return watch.Key{}, errors.New("tenant and entity are required")
	}
	return key, nil
}
