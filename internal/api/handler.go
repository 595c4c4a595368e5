package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/nidhogg/mister-handy/internal/history"
	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch    *orchestrator.Orchestrator
	history *history.Store
	logger  *zap.Logger
}

// NewHandler creates a new API handler. The history store may be nil
// when run persistence is disabled.
func NewHandler(orch *orchestrator.Orchestrator, hist *history.Store, logger *zap.Logger) *Handler {
	return &Handler{
		orch:    orch,
		history: hist,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Fleet-wide lifecycle operations
		r.Get("/status", h.fleetStatus)
		r.Get("/diagnose", h.fleetDiagnose)
		r.Post("/fix", h.fleetFix)
		r.Get("/develop", h.fleetDevelop)
		r.Get("/summary", h.summary)

		// Per-agent operations
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/agents/{name}/status", h.agentStatus)
		r.Get("/agents/{name}/diagnose", h.agentDiagnose)
		r.Post("/agents/{name}/fix", h.agentFix)
		r.Get("/agents/{name}/develop", h.agentDevelop)
		r.Post("/agents/{name}/tasks/{taskID}/run", h.runTask)

		// Scheduler control
		r.Get("/scheduler", h.schedulerStatus)
		r.Post("/scheduler/start", h.schedulerStart)
		r.Post("/scheduler/stop", h.schedulerStop)

		// Run history
		r.Get("/history", h.listHistory)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mister-handy"})
}

func (h *Handler) fleetStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.orch.Status(r.Context()))
}

func (h *Handler) fleetDiagnose(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.orch.Diagnose(r.Context()))
}

type fixRequest struct {
	Apply bool `json:"apply"`
}

func (h *Handler) fleetFix(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeResult(w, h.orch.Fix(r.Context(), req.Apply))
}

func (h *Handler) fleetDevelop(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.orch.Develop(r.Context()))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Summarize(r.Context()))
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.List())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := h.orch.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, diag.Describe(a))
}

func (h *Handler) agentStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.AgentStatus(r.Context(), chi.URLParam(r, "name"))
	h.writeAgentResult(w, res, err)
}

func (h *Handler) agentDiagnose(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.AgentDiagnose(r.Context(), chi.URLParam(r, "name"))
	h.writeAgentResult(w, res, err)
}

func (h *Handler) agentFix(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := h.orch.AgentFix(r.Context(), chi.URLParam(r, "name"), req.Apply)
	h.writeAgentResult(w, res, err)
}

func (h *Handler) agentDevelop(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.AgentDevelop(r.Context(), chi.URLParam(r, "name"))
	h.writeAgentResult(w, res, err)
}

func (h *Handler) runTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.RunTask(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "taskID"))
	h.writeAgentResult(w, res, err)
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Scheduler().Status())
}

func (h *Handler) schedulerStart(w http.ResponseWriter, r *http.Request) {
	h.orch.Scheduler().Start()
	writeJSON(w, http.StatusOK, h.orch.Scheduler().Status())
}

func (h *Handler) schedulerStop(w http.ResponseWriter, r *http.Request) {
	h.orch.Scheduler().Stop()
	writeJSON(w, http.StatusOK, h.orch.Scheduler().Status())
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history not enabled"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	records, err := h.history.Recent(r.Context(), r.URL.Query().Get("agent"), limit)
	if err != nil {
		h.logger.Error("query history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) writeAgentResult(w http.ResponseWriter, res *diag.Result, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrAgentNotFound) || errors.Is(err, orchestrator.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeResult(w, res)
}

// decodeOptional parses a JSON body when one is present. An empty body
// leaves the destination at its zero value.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func writeResult(w http.ResponseWriter, res *diag.Result) {
	status := http.StatusOK
	if res.Status == diag.StatusError || res.Status == diag.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
