package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/ledger/pkg/export"
	"github.com/cuemby/ledger/pkg/hybrid"
	"github.com/cuemby/ledger/pkg/types"
)

// handlers is the minimal JSON surface of a ledger node. It exists to drive
// the persistence core from the outside; request validation beyond what the
// core itself enforces belongs to the gateway in front of it.
type handlers struct {
	store   *hybrid.Store
	exports *export.Registry
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("/resources/", h.resources)
	mux.HandleFunc("/export", h.initiateExport)
	mux.HandleFunc("/export/", h.exportJob)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case types.IsResourceNotFound(err), types.IsVersionNotFound(err):
		code = http.StatusNotFound
	case types.IsInvalidResource(err):
		code = http.StatusBadRequest
	default:
		var tooMany *types.TooManyConcurrentExportRequestsError
		var tenancy *types.TenancyMismatchError
		switch {
		case errors.As(err, &tooMany):
			code = http.StatusTooManyRequests
		case errors.As(err, &tenancy):
			code = http.StatusBadRequest
		default:
			code = http.StatusInternalServerError
		}
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// resources routes /resources/{type}, /resources/{type}/{id} and
// /resources/{type}/{id}/_history/{vid}.
func (h *handlers) resources(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/resources/"), "/"), "/")
	tenantID := r.Header.Get("X-Tenant-Id")
	ctx := r.Context()

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		var resource types.Resource
		if err := json.NewDecoder(r.Body).Decode(&resource); err != nil {
			writeError(w, &types.InvalidResourceError{Reason: "malformed JSON body"})
			return
		}
		created, err := h.store.CreateResource(ctx, resource, parts[0], tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case len(parts) == 2 && r.Method == http.MethodGet:
		resource, err := h.store.ReadResource(ctx, parts[0], parts[1], tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resource)

	case len(parts) == 2 && r.Method == http.MethodPut:
		var resource types.Resource
		if err := json.NewDecoder(r.Body).Decode(&resource); err != nil {
			writeError(w, &types.InvalidResourceError{Reason: "malformed JSON body"})
			return
		}
		updated, err := h.store.UpdateResource(ctx, resource, parts[0], parts[1], tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case len(parts) == 2 && r.Method == http.MethodDelete:
		msg, err := h.store.DeleteResource(ctx, parts[0], parts[1], tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})

	case len(parts) == 4 && parts[2] == "_history" && r.Method == http.MethodGet:
		vid, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			writeError(w, &types.InvalidResourceError{Reason: "version id must be an integer"})
			return
		}
		resource, err := h.store.ReadVersion(ctx, parts[0], parts[1], vid, tenantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resource)

	default:
		http.NotFound(w, r)
	}
}

func (h *handlers) initiateExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req export.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &types.InvalidResourceError{Reason: "malformed JSON body"})
		return
	}
	req.TenantID = r.Header.Get("X-Tenant-Id")
	jobID, err := h.exports.InitiateExport(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *handlers) exportJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/export/"), "/")
	switch r.Method {
	case http.MethodGet:
		job, err := h.exports.GetExportStatus(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := h.exports.CancelExport(r.Context(), jobID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": string(types.JobCanceling)})
	default:
		http.NotFound(w, r)
	}
}
