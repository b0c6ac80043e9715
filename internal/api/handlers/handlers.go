// Package handlers implements the HTTP handlers for the pagemule API.
// Every response uses the same envelope: {ok, result, error, meta}, with
// meta carrying the request ID and any operation warnings.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/engine"
	"github.com/pagemule/pagemule/internal/jobs"
	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine  *engine.Engine
	Store   store.Store
	Jobs    *jobs.Queue
	Version string
}

func New(eng *engine.Engine, st store.Store, q *jobs.Queue, version string) *Handlers {
	return &Handlers{Engine: eng, Store: st, Jobs: q, Version: version}
}

// ── Envelope ────────────────────────────────────────────────

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
	Meta   meta            `json:"meta"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string   `json:"request_id,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Replayed  bool     `json:"replayed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondOutcome(w http.ResponseWriter, r *http.Request, out *engine.Outcome) {
	writeJSON(w, http.StatusOK, envelope{
		OK:     true,
		Result: out.Result,
		Meta: meta{
			RequestID: chimw.GetReqID(r.Context()),
			Warnings:  out.Warnings,
			Replayed:  out.Replayed,
		},
	})
}

func respondValue(w http.ResponseWriter, r *http.Request, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		OK:     true,
		Result: raw,
		Meta:   meta{RequestID: chimw.GetReqID(r.Context())},
	})
}

// respondError maps the typed error taxonomy onto HTTP statuses.
// Remote statuses in the 4xx range pass through; remote 5xx becomes a
// 502 so callers can tell our failures from upstream ones.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	det := engine.Describe(err)
	status := http.StatusInternalServerError
	switch det.Code {
	case "bad_request":
		status = http.StatusBadRequest
	case "invalid_property_value", "read_only_property", "invalid_relation_target":
		status = http.StatusUnprocessableEntity
	case "remote_api_error":
		if det.Status >= 400 && det.Status < 500 {
			status = det.Status
		} else {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, envelope{
		OK: false,
		Error: &errorBody{
			Code:    det.Code,
			Message: det.Message,
			Details: errDetails(det),
		},
		Meta: meta{RequestID: chimw.GetReqID(r.Context())},
	})
}

func errDetails(det models.ErrorDetail) any {
	if det.Status == 0 {
		return nil
	}
	return map[string]int{"remote_status": det.Status}
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &engine.BadRequestError{Reason: "body: " + err.Error()}
	}
	return nil
}

func idemKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// ── Operations ──────────────────────────────────────────────

func (h *Handlers) Upsert(w http.ResponseWriter, r *http.Request) {
	var args engine.UpsertArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	out, err := h.Engine.Upsert(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) Link(w http.ResponseWriter, r *http.Request) {
	var args engine.LinkArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	out, err := h.Engine.Link(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) Bulk(w http.ResponseWriter, r *http.Request) {
	var batch models.BulkBatch
	if err := decodeBody(r, &batch); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.Engine.ExecuteBulk(r.Context(), batch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, res)
}

// ── Pages ───────────────────────────────────────────────────

func (h *Handlers) CreatePage(w http.ResponseWriter, r *http.Request) {
	var args engine.CreatePageArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	out, err := h.Engine.CreatePage(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) GetPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.Engine.GetPage(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, page)
}

func (h *Handlers) UpdatePage(w http.ResponseWriter, r *http.Request) {
	var args engine.UpdatePageArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	args.PageID = chi.URLParam(r, "pageID")
	out, err := h.Engine.UpdatePage(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) ArchivePage(w http.ResponseWriter, r *http.Request) {
	out, err := h.Engine.ArchivePage(r.Context(), chi.URLParam(r, "pageID"), idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) RestorePage(w http.ResponseWriter, r *http.Request) {
	out, err := h.Engine.RestorePage(r.Context(), chi.URLParam(r, "pageID"), idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

// ── Databases ───────────────────────────────────────────────

func (h *Handlers) ListDatabases(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Search(r.Context(), notion.SearchRequest{
		Query:  r.URL.Query().Get("query"),
		Filter: json.RawMessage(`{"property":"object","value":"database"}`),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, res)
}

func (h *Handlers) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	var args engine.CreateDatabaseArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	out, err := h.Engine.CreateDatabase(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) GetDatabase(w http.ResponseWriter, r *http.Request) {
	db, err := h.Engine.GetDatabase(r.Context(), chi.URLParam(r, "databaseID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, db)
}

func (h *Handlers) UpdateDatabase(w http.ResponseWriter, r *http.Request) {
	var args engine.UpdateDatabaseArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	args.DatabaseID = chi.URLParam(r, "databaseID")
	out, err := h.Engine.UpdateDatabase(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) QueryDatabase(w http.ResponseWriter, r *http.Request) {
	var args engine.QueryDatabaseArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	args.DatabaseID = chi.URLParam(r, "databaseID")
	page, err := h.Engine.QueryDatabase(r.Context(), args)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, page)
}

// ── Blocks ──────────────────────────────────────────────────

func (h *Handlers) ListBlocks(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageSize = n
		}
	}
	list, err := h.Engine.ListBlocks(r.Context(), chi.URLParam(r, "blockID"), r.URL.Query().Get("cursor"), pageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, list)
}

func (h *Handlers) AppendBlocks(w http.ResponseWriter, r *http.Request) {
	var args engine.AppendBlocksArgs
	if err := decodeBody(r, &args); err != nil {
		respondError(w, r, err)
		return
	}
	args.BlockID = chi.URLParam(r, "blockID")
	out, err := h.Engine.AppendBlocks(r.Context(), args, idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

func (h *Handlers) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	out, err := h.Engine.DeleteBlock(r.Context(), chi.URLParam(r, "blockID"), idemKey(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOutcome(w, r, out)
}

// ── Search ──────────────────────────────────────────────────

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req notion.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.Engine.Search(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, res)
}

// ── Audit ───────────────────────────────────────────────────

// ListAudit returns recent audit events, newest first. Filters:
// actor, op, success, since, until (RFC 3339), limit, offset.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		Actor: q.Get("actor"),
		Op:    q.Get("op"),
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, &engine.BadRequestError{Reason: "success must be true or false"})
			return
		}
		filter.Success = &b
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				respondError(w, r, &engine.BadRequestError{Reason: name + " must be RFC 3339"})
				return
			}
			*dst = &ts
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	events, err := h.Store.ListAuditEvents(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	total, err := h.Store.CountAuditEvents(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondValue(w, r, map[string]any{"events": events, "total": total})
}

// ── Jobs ────────────────────────────────────────────────────

type createJobRequest struct {
	Kind string          `json:"kind"`
	Args json.RawMessage `json:"args"`
}

// CreateJob enqueues a long-running operation (currently bulk batches)
// and returns its ID for status polling.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Kind == "" {
		respondError(w, r, &engine.BadRequestError{Reason: "job requires a kind"})
		return
	}
	job, err := h.Jobs.Enqueue(r.Context(), req.Kind, req.Args)
	if err != nil {
		respondError(w, r, &engine.BadRequestError{Reason: err.Error()})
		return
	}
	respondValue(w, r, job)
}

// GetJob returns the current status and, once finished, the output of
// a queued job.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := h.Jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{
			OK: false,
			Error: &errorBody{
				Code:    "not_found",
				Message: "job " + id + " not found",
			},
			Meta: meta{RequestID: chimw.GetReqID(r.Context())},
		})
		return
	}
	respondValue(w, r, job)
}
