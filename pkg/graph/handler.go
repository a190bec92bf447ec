package graph

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nimbusmesh/smo/internal/httpserver"
)

// Orchestrator is the subset of internal/orchestrator.Orchestrator the HTTP
// layer depends on, kept as an interface here so pkg/graph does not need to
// import internal/orchestrator.
type Orchestrator interface {
	Submit(ctx context.Context, project string, body []byte) (Graph, error)
	Replace(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// Store is the subset of *Store the HTTP layer reads from directly (the
// write paths all go through Orchestrator), kept as an interface here so a
// fake can back handler tests without a live Postgres connection.
type Store interface {
	GetByName(ctx context.Context, name string) (Graph, error)
	ListByProject(ctx context.Context, project string) ([]Graph, error)
}

// Handler provides HTTP handlers for the graph API.
type Handler struct {
	logger *slog.Logger
	store  Store
	orch   Orchestrator
}

// NewHandler creates a graph Handler.
func NewHandler(logger *slog.Logger, store Store, orch Orchestrator) *Handler {
	return &Handler{logger: logger, store: store, orch: orch}
}

// Routes returns a chi.Router with all graph routes mounted, matching the
// external interface table in spec §6.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/project/{project}", func(r chi.Router) {
		r.Get("/", h.handleListByProject)
		r.Post("/", h.handleSubmit)
	})
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/placement", h.handleTriggerPlacement)
		r.Get("/start", h.handleStart)
		r.Get("/stop", h.handleStop)
		r.Delete("/", h.handleRemove)
	})
	return r
}

func (h *Handler) handleListByProject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	graphs, err := h.store.ListByProject(r.Context(), project)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	// §6's external interface returns a bare `[Graph]` array (no envelope);
	// pagination still bounds how much of it is materialized per request.
	page := paginateGraphs(graphs, params)

	dicts := make([]Dict, len(page))
	for i, g := range page {
		dicts[i] = g.ToDict()
	}
	httpserver.Respond(w, http.StatusOK, dicts)
}

func paginateGraphs(graphs []Graph, params httpserver.OffsetParams) []Graph {
	if params.Offset >= len(graphs) {
		return nil
	}
	end := params.Offset + params.PageSize
	if end > len(graphs) {
		end = len(graphs)
	}
	return graphs[params.Offset:end]
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	g, err := h.orch.Submit(r.Context(), project, body)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("graph " + g.Name + " submitted"))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	g, err := h.store.GetByName(r.Context(), name)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, g.ToDict())
}

func (h *Handler) handleTriggerPlacement(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.Replace(r.Context(), name); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	writeText(w, "placement triggered for "+name)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.Start(r.Context(), name); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	writeText(w, "graph "+name+" started")
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.Stop(r.Context(), name); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	writeText(w, "graph "+name+" stopped")
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.Remove(r.Context(), name); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	writeText(w, "graph "+name+" removed")
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
