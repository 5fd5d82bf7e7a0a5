package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hazyhaar/georecon/pkg/kit"
	"github.com/hazyhaar/georecon/pkg/store"
)

// NewRouter returns an http.Handler with the read-back API routes.
func NewRouter(st *store.Store, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	h := &handler{eps: newEndpoints(st, logger)}

	mux.HandleFunc("GET /v1/mappings/{externalId}", h.handleMappings)
	mux.HandleFunc("GET /v1/mappings/{externalId}/{level}", h.handleMapping)
	mux.HandleFunc("GET /v1/review", h.handleReview)
	mux.HandleFunc("GET /v1/units/near", h.handleNear)
	mux.HandleFunc("GET /v1/report", h.handleReport)
	mux.HandleFunc("GET /v1/health", h.handleHealth)

	return cors(requestID(mux))
}

type handler struct {
	eps endpoints
}

// --- mappings ---

func (h *handler) handleMappings(w http.ResponseWriter, r *http.Request) {
	id, ok := externalID(w, r)
	if !ok {
		return
	}
	resp, err := h.eps.mappings(r.Context(), &mappingsReq{ExternalID: id})
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := externalID(w, r)
	if !ok {
		return
	}
	resp, err := h.eps.mapping(r.Context(), &mappingReq{ExternalID: id, Level: r.PathValue("level")})
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- review queue ---

func (h *handler) handleReview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err1 := optionalInt(q.Get("limit"))
	offset, err2 := optionalInt(q.Get("offset"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "limit and offset must be integers")
		return
	}
	resp, err := h.eps.review(r.Context(), &reviewReq{Level: q.Get("level"), Limit: limit, Offset: offset})
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- nearby units ---

func (h *handler) handleNear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	radius, err3 := strconv.ParseFloat(q.Get("radius_km"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		writeError(w, http.StatusBadRequest, "lat, lon and radius_km must be numbers")
		return
	}
	resp, err := h.eps.near(r.Context(), &nearReq{Type: q.Get("type"), Lat: lat, Lon: lon, RadiusKm: radius})
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// --- report ---

func (h *handler) handleReport(w http.ResponseWriter, r *http.Request) {
	resp, err := h.eps.report(r.Context(), nil)
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- health ---

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.eps.health(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func externalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("externalId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "externalId must be an integer")
		return 0, false
	}
	return id, true
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeEndpointError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestID tags each request context with the X-Request-ID header, or a
// fresh id when the client sent none.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
