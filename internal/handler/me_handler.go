package handler

import (
	"net/http"

	"go.uber.org/zap"
)

// ============================================================
// Aggregated profile view — GET /v1/me/overview, POST /v1/me/refresh
// ============================================================

func overviewHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/me/overview")
		defer span.End()

		entry := EntryFromContext(r.Context())
		if entry == nil {
			writeError(w, http.StatusUnauthorized, "no active session")
			return
		}

		// The snapshot is returned as-is, loading flag included. A cycle
		// still in flight shows loading=true; the frontend polls or waits
		// for the next read.
		writeJSON(w, http.StatusOK, entry.Loader.Snapshot())
	}
}

func refreshHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/me/refresh")
		defer span.End()

		entry := EntryFromContext(r.Context())
		if entry == nil {
			writeError(w, http.StatusUnauthorized, "no active session")
			return
		}

		entry.Loader.Refresh()
		writeJSON(w, http.StatusAccepted, entry.Loader.Snapshot())
	}
}
