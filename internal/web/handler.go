package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/database"
	"github.com/luaidle/luaidle/internal/engine"
	"github.com/luaidle/luaidle/internal/models"
	"github.com/luaidle/luaidle/internal/registry"
	"github.com/luaidle/luaidle/internal/reporter"
)

// LockStatus reports the lock program started by the daemon
type LockStatus interface {
	Running() (int, bool)
}

// Deps are the parts of the daemon the status server reads from
type Deps struct {
	Backend  string
	Engine   *engine.Engine
	Registry *registry.Registry
	Lock     LockStatus
	Actions  engine.Submitter
	Repo     *database.Repository
	Metrics  http.Handler
}

type Handler struct {
	deps     Deps
	reporter *reporter.Reporter
	started  time.Time
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{
		deps:    deps,
		started: time.Now(),
	}
	if deps.Repo != nil {
		h.reporter = reporter.New(deps.Repo)
	}
	return h
}

func (h *Handler) SetupRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Post("/reload", h.handleReload)
		r.Get("/events", h.handleEvents)
		r.Get("/events/latest", h.handleLatestEvent)
		r.Get("/report", h.handleReport)
	})

	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}
}

type notificationStatus struct {
	Handle       string    `json:"handle"`
	Callback     string    `json:"callback"`
	TimeoutSecs  int64     `json:"timeout_secs"`
	State        string    `json:"state"`
	RegisteredAt time.Time `json:"registered_at"`
}

type status struct {
	Backend       string               `json:"backend"`
	Script        string               `json:"script,omitempty"`
	Reloads       int64                `json:"reloads"`
	Uptime        string               `json:"uptime"`
	LockRunning   bool                 `json:"lock_running"`
	LockPID       int                  `json:"lock_pid,omitempty"`
	Notifications []notificationStatus `json:"notifications"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := status{
		Backend:       h.deps.Backend,
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		Notifications: []notificationStatus{},
	}
	if h.deps.Engine != nil {
		st.Script = h.deps.Engine.ScriptPath()
		st.Reloads = h.deps.Engine.Reloads()
	}
	if h.deps.Lock != nil {
		st.LockPID, st.LockRunning = h.deps.Lock.Running()
	}
	if h.deps.Registry != nil {
		entries := h.deps.Registry.Snapshot()
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].RegisteredAt.Before(entries[j].RegisteredAt)
		})
		for _, e := range entries {
			st.Notifications = append(st.Notifications, notificationStatus{
				Handle:       e.Handle.String(),
				Callback:     e.CallbackName,
				TimeoutSecs:  int64(e.Timeout / time.Second),
				State:        e.State.String(),
				RegisteredAt: e.RegisteredAt,
			})
		}
	}

	respondJSON(w, st)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Actions == nil {
		http.Error(w, "Reload not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Actions.Submit(r.Context(), action.Reload()); err != nil {
		http.Error(w, fmt.Sprintf("Failed to queue reload: %v", err), http.StatusServiceUnavailable)
		return
	}
	respondJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	events, err := h.deps.Repo.GetEventsSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch events: %v", err), http.StatusInternalServerError)
		return
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []*models.IdleEvent{}
	}

	respondJSON(w, events)
}

func (h *Handler) handleLatestEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}

	event, err := h.deps.Repo.GetLatestEvent()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch latest event: %v", err), http.StatusInternalServerError)
		return
	}

	if event == nil {
		http.Error(w, "No events found", http.StatusNotFound)
		return
	}

	respondJSON(w, event)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(periodType)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate report: %v", err), http.StatusBadRequest)
		return
	}

	respondJSON(w, report)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
