package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/trackid/identify"
	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/telemetry"
)

// Identifier is the part of the identification orchestrator the API drives.
type Identifier interface {
	Snapshot() identify.State
	Trigger(ctx context.Context, quiet bool) (identify.Outcome, error)
	SetSilenced(v bool)
}

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers serves the API. DB and ChatConnected are optional.
type Handlers struct {
	Ident         Identifier
	Store         *setlist.Store
	DataDir       string
	DB            Pinger
	ChatConnected func() bool

	ctx context.Context
}

type statusResponse struct {
	Channel       string         `json:"channel"`
	Date          string         `json:"date"`
	Songs         int            `json:"songs"`
	LastSong      string         `json:"last_song,omitempty"`
	SessionStart  *time.Time     `json:"session_start,omitempty"`
	ChatConnected *bool          `json:"chat_connected,omitempty"`
	Identify      identify.State `json:"identify"`
}

// HandleHealthz answers liveness probes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports the first failing readiness check.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"chat", func() error {
			if h.ChatConnected != nil && !h.ChatConnected() {
				return errors.New("chat not connected")
			}
			return nil
		}},
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(r.Context())
		}},
		{"setlist", func() error {
			_, err := os.Stat(h.Store.Path())
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus summarizes the session and the orchestrator state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Channel:  h.Store.Channel(),
		Date:     h.Store.Date().Format(time.DateOnly),
		Songs:    h.Store.Len(),
		Identify: h.Ident.Snapshot(),
	}
	if last, err := h.Store.Last(); err == nil {
		resp.LastSong = last.Formatted(false)
	}
	if start, ok := h.Store.Started(); ok {
		resp.SessionStart = &start
	}
	if h.ChatConnected != nil {
		connected := h.ChatConnected()
		resp.ChatConnected = &connected
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSetlist returns today's setlist document.
func (h *Handlers) HandleSetlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store)
}

// HandleSetlistCSV streams today's setlist as CSV.
func (h *Handlers) HandleSetlistCSV(w http.ResponseWriter, r *http.Request) {
	writeCSV(w, r, h.Store)
}

// HandleSetlistByDate serves a past setlist of the same channel; ?format=csv selects CSV.
func (h *Handlers) HandleSetlistByDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.ParseInLocation(time.DateOnly, chi.URLParam(r, "date"), time.Local)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	store := h.Store
	if date.Format(time.DateOnly) != h.Store.Date().Format(time.DateOnly) {
		if _, err := os.Stat(setlist.PathFor(h.DataDir, h.Store.Channel(), date)); err != nil {
			http.Error(w, "setlist not found", http.StatusNotFound)
			return
		}
		if store, err = setlist.Open(h.DataDir, h.Store.Channel(), date); err != nil {
			telemetry.LoggerWithCorr(r.Context()).Error("open setlist", slog.Any("err", err), slog.String("component", "http"))
			http.Error(w, "setlist unreadable", http.StatusInternalServerError)
			return
		}
	}
	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, r, store)
		return
	}
	writeJSON(w, http.StatusOK, store)
}

// HandleAdminIdentify starts an identification run in the background.
// ?quiet=1 suppresses every reply except a new-song announcement.
func (h *Handlers) HandleAdminIdentify(w http.ResponseWriter, r *http.Request) {
	if h.Ident.Snapshot().Identifying {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
		return
	}
	quiet, _ := strconv.ParseBool(r.URL.Query().Get("quiet"))
	corr := telemetry.GetCorrelation(r.Context())
	ctx := telemetry.WithCorrelation(h.ctx, corr)
	go func() {
		outcome, err := h.Ident.Trigger(ctx, quiet)
		logger := telemetry.LoggerWithCorr(ctx)
		if err != nil {
			logger.Warn("admin identify reply failed", slog.Any("err", err), slog.String("component", "http"))
		}
		logger.Info("admin identify finished", slog.String("outcome", string(outcome)), slog.String("component", "http"))
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type quietRequest struct {
	Silenced bool `json:"silenced"`
}

// HandleAdminQuiet sets quiet mode from a {"silenced": bool} body.
func (h *Handlers) HandleAdminQuiet(w http.ResponseWriter, r *http.Request) {
	var req quietRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.Ident.SetSilenced(req.Silenced)
	telemetry.LoggerWithCorr(r.Context()).Info("quiet mode changed", slog.Bool("silenced", req.Silenced), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, h.Ident.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCSV(w http.ResponseWriter, r *http.Request, store *setlist.Store) {
	name := fmt.Sprintf("%s-%s.csv", store.Channel(), store.Date().Format(time.DateOnly))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := store.WriteCSV(w); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("write setlist csv", slog.Any("err", err), slog.String("component", "http"))
	}
}
