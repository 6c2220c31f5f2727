package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/domain/params"
	"github.com/lsst-sqre/times-square/internal/events"
	"github.com/lsst-sqre/times-square/internal/platform/httpserver"
	"github.com/lsst-sqre/times-square/internal/service/pages"
)

type pagesAPI struct {
	logger *slog.Logger
	svc    *pages.Service

	// eventsInterval is the poll cadence of the htmlevents stream.
	eventsInterval time.Duration
}

func newPagesAPI(logger *slog.Logger, svc *pages.Service, eventsInterval time.Duration) *pagesAPI {
	if eventsInterval <= 0 {
		eventsInterval = time.Second
	}
	return &pagesAPI{logger: logger, svc: svc, eventsInterval: eventsInterval}
}

func (api *pagesAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/pages", api.handleCreatePage)
	mux.HandleFunc("GET /v1/pages", api.handleListPages)
	mux.HandleFunc("GET /v1/pages/{page}", api.handleGetPage)
	mux.HandleFunc("PUT /v1/pages/{page}", api.handleUpdatePage)
	mux.HandleFunc("DELETE /v1/pages/{page}", api.handleDeletePage)
	mux.HandleFunc("GET /v1/pages/{page}/source", api.handleGetSource)
	mux.HandleFunc("GET /v1/pages/{page}/rendered", api.handleGetRendered)
	mux.HandleFunc("GET /v1/pages/{page}/html", api.handleGetHTML)
	mux.HandleFunc("DELETE /v1/pages/{page}/html", api.handleDeleteHTML)
	mux.HandleFunc("GET /v1/pages/{page}/htmlstatus", api.handleHTMLStatus)
	mux.HandleFunc("GET /v1/pages/{page}/htmlevents", api.handleHTMLEvents)
}

type pageRequest struct {
	Title           string                    `json:"title"`
	Description     string                    `json:"description,omitempty"`
	Ipynb           string                    `json:"ipynb"`
	Parameters      map[string]map[string]any `json:"parameters,omitempty"`
	Authors         []domain.Person           `json:"authors,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	CacheTTLSeconds int                       `json:"cache_ttl_seconds,omitempty"`
	TimeoutSeconds  int                       `json:"timeout_seconds,omitempty"`
}

type pageResponse struct {
	Name            string                    `json:"name"`
	Title           string                    `json:"title"`
	Description     string                    `json:"description,omitempty"`
	Authors         []domain.Person           `json:"authors,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	Parameters      map[string]map[string]any `json:"parameters"`
	CacheTTLSeconds int                       `json:"cache_ttl_seconds,omitempty"`
	TimeoutSeconds  int                       `json:"timeout_seconds,omitempty"`
	Uploader        string                    `json:"uploader_username,omitempty"`
	DateAdded       time.Time                 `json:"date_added"`
	SelfURL         string                    `json:"self_url"`
	SourceURL       string                    `json:"source_url"`
	RenderedURL     string                    `json:"rendered_url"`
	HTMLURL         string                    `json:"html_url"`
	HTMLStatusURL   string                    `json:"html_status_url"`
	HTMLEventsURL   string                    `json:"html_events_url"`
}

func pageToResponse(page *domain.Page) pageResponse {
	self := "/v1/pages/" + page.Name
	return pageResponse{
		Name:            page.Name,
		Title:           page.Title,
		Description:     page.Description,
		Authors:         page.Authors,
		Tags:            page.Tags,
		Parameters:      page.Parameters.JSONSchemas(),
		CacheTTLSeconds: int(page.CacheTTL / time.Second),
		TimeoutSeconds:  int(page.ExecutionTimeout / time.Second),
		Uploader:        page.UploaderUsername,
		DateAdded:       page.DateAdded,
		SelfURL:         self,
		SourceURL:       self + "/source",
		RenderedURL:     self + "/rendered",
		HTMLURL:         self + "/html",
		HTMLStatusURL:   self + "/htmlstatus",
		HTMLEventsURL:   self + "/htmlevents",
	}
}

func (api *pagesAPI) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		api.writeError(w, r, http.StatusBadRequest, "title_required")
		return
	}
	if req.Ipynb == "" {
		api.writeError(w, r, http.StatusBadRequest, "ipynb_required")
		return
	}
	if _, err := params.Create(req.Parameters, nil); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_parameters")
		return
	}

	page, err := api.svc.CreatePage(r.Context(), pages.CreatePageRequest{
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Ipynb:            req.Ipynb,
		ParameterSchemas: req.Parameters,
		Authors:          req.Authors,
		Tags:             req.Tags,
		CacheTTLSeconds:  req.CacheTTLSeconds,
		TimeoutSeconds:   req.TimeoutSeconds,
		UploaderUsername: strings.TrimSpace(r.Header.Get("X-Auth-Request-User")),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/pages/"+page.Name)
	api.writeJSON(w, http.StatusCreated, pageToResponse(page))
}

func (api *pagesAPI) handleListPages(w http.ResponseWriter, r *http.Request) {
	summaries, err := api.svc.ListPages(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	type pageSummary struct {
		Name    string `json:"name"`
		Title   string `json:"title"`
		SelfURL string `json:"self_url"`
	}
	out := make([]pageSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, pageSummary{
			Name:    s.Name,
			Title:   s.Title,
			SelfURL: "/v1/pages/" + s.Name,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func (api *pagesAPI) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page, err := api.svc.GetPage(r.Context(), r.PathValue("page"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, pageToResponse(page))
}

func (api *pagesAPI) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		api.writeError(w, r, http.StatusBadRequest, "title_required")
		return
	}
	if req.Ipynb == "" {
		api.writeError(w, r, http.StatusBadRequest, "ipynb_required")
		return
	}

	page, err := api.svc.GetPage(r.Context(), r.PathValue("page"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	parameters, err := params.Create(req.Parameters, nil)
	if err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_parameters")
		return
	}

	page.Title = strings.TrimSpace(req.Title)
	page.Description = req.Description
	page.Ipynb = req.Ipynb
	page.Parameters = parameters
	page.Authors = req.Authors
	page.Tags = req.Tags
	page.CacheTTL = time.Duration(req.CacheTTLSeconds) * time.Second
	page.ExecutionTimeout = time.Duration(req.TimeoutSeconds) * time.Second

	if err := api.svc.UpdatePage(r.Context(), page); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, pageToResponse(page))
}

func (api *pagesAPI) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.SoftDeletePage(r.Context(), r.PathValue("page")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *pagesAPI) handleGetSource(w http.ResponseWriter, r *http.Request) {
	page, err := api.svc.GetPage(r.Context(), r.PathValue("page"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ipynb+json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, page.Ipynb)
}

// handleGetRendered returns the notebook source with the request's parameter
// values substituted, without executing it.
func (api *pagesAPI) handleGetRendered(w http.ResponseWriter, r *http.Request) {
	res, err := api.svc.Resolve(r.Context(), r.PathValue("page"), r.URL.Query())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	rendered, err := res.Instance.RenderIpynb()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ipynb+json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rendered)
}

func (api *pagesAPI) handleGetHTML(w http.ResponseWriter, r *http.Request) {
	record, err := api.svc.GetHTML(r.Context(), r.PathValue("page"), r.URL.Query())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if record == nil {
		// Execution is in flight; the client polls or subscribes to
		// the event stream.
		w.Header().Set("Retry-After", "2")
		api.writeError(w, r, http.StatusNotFound, "html_not_ready")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", `"`+record.HTMLHash+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, record.HTML)
}

func (api *pagesAPI) handleDeleteHTML(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.SoftDeleteHTML(r.Context(), r.PathValue("page"), r.URL.Query()); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *pagesAPI) handleHTMLStatus(w http.ResponseWriter, r *http.Request) {
	job, html, err := api.svc.Status(r.Context(), r.PathValue("page"), r.URL.Query())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	snap := events.Project(job, html, htmlURL(r))
	api.attachShareURL(r, &snap)
	api.writeJSON(w, http.StatusOK, snap)
}

// attachShareURL adds a presigned archive link to snapshots that have a
// rendering to share. Presign failures drop the link, nothing else.
func (api *pagesAPI) attachShareURL(r *http.Request, snap *events.Snapshot) {
	if snap.HTMLHash == "" {
		return
	}
	link, err := api.svc.ShareURL(r.Context(), r.PathValue("page"), r.URL.Query())
	if err != nil {
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Warn("share link presign failed",
			"request_id", requestID,
			"page", r.PathValue("page"),
			"error", err.Error())
		return
	}
	snap.HTMLShareURL = link
}

// handleHTMLEvents streams execution status snapshots until the rendering
// is fresh and no job is pending.
func (api *pagesAPI) handleHTMLEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	// Fail before committing to the stream if the page is unknown.
	if _, err := api.svc.Resolve(r.Context(), r.PathValue("page"), r.URL.Query()); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(api.eventsInterval)
	defer ticker.Stop()

	for {
		job, html, err := api.svc.Status(r.Context(), r.PathValue("page"), r.URL.Query())
		if err != nil {
			requestID, _ := httpserver.RequestIDFromContext(r.Context())
			api.logger.Error("event stream status failed",
				"request_id", requestID,
				"page", r.PathValue("page"),
				"error", err.Error())
			return
		}
		snap := events.Project(job, html, htmlURL(r))
		if snap.Terminal() {
			// One presign per stream, on the final frame.
			api.attachShareURL(r, &snap)
		}
		if err := events.WriteSSE(w, snap); err != nil {
			return
		}
		flusher.Flush()

		if snap.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// htmlURL rewrites a status or events request URL into its page's HTML URL,
// keeping the parameter query.
func htmlURL(r *http.Request) string {
	path := r.URL.Path
	for _, suffix := range []string{"/htmlstatus", "/htmlevents"} {
		if strings.HasSuffix(path, suffix) {
			path = strings.TrimSuffix(path, suffix) + "/html"
			break
		}
	}
	if r.URL.RawQuery != "" {
		return path + "?" + r.URL.RawQuery
	}
	return path
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *pagesAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *pagesAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// writeServiceError maps orchestrator errors onto HTTP statuses: unknown or
// deleted pages are 404, rejected parameter values 422, the rest 500.
func (api *pagesAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var valueErr *params.ValueError
	switch {
	case errors.Is(err, pages.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "page_not_found")
	case errors.As(err, &valueErr):
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "invalid_parameter_value",
			"parameter":  valueErr.Name,
			"detail":     valueErr.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
	default:
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Error("request failed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
