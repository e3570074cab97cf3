package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================
// Shared documents — upload, signed URL, delete
// ============================================================

const (
	documentBucket   = "client-documents"
	signedURLTTL     = time.Hour
	maxDocumentBytes = 20 << 20 // 20 MiB
)

type uploadDocumentRequest struct {
	ClientID         string `json:"client_id"`
	Name             string `json:"name"`
	ContentBase64    string `json:"content_base64"`
	ContentType      string `json:"content_type"`
	SharedWithClient bool   `json:"shared_with_client"`
}

func uploadDocumentHandler(crm port.CRMStore, objects port.ObjectStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/documents")
		defer span.End()

		var req uploadDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ClientID == "" || req.Name == "" || req.ContentBase64 == "" {
			writeError(w, http.StatusBadRequest, "client_id, name and content_base64 are required")
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "content_base64 is not valid base64")
			return
		}
		if len(data) > maxDocumentBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "document exceeds size limit")
			return
		}

		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		// Object path is unique per upload so re-uploading the same name
		// never overwrites an existing file.
		path := fmt.Sprintf("%s/%s-%s", req.ClientID, uuid.NewString(), req.Name)
		if err := objects.Upload(ctx, documentBucket, path, data, contentType); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		doc, err := crm.CreateDocument(ctx, &domain.Document{
			ClientID:         req.ClientID,
			Name:             req.Name,
			Bucket:           documentBucket,
			Path:             path,
			SharedWithClient: req.SharedWithClient,
		})
		if err != nil {
			// The object is already in storage; surface the failure and let
			// the caller retry the metadata write.
			logger.Error("documents: metadata write failed after upload",
				zap.String("path", path),
				zap.Error(err),
			)
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("documents: uploaded",
			zap.String("doc_id", doc.ID),
			zap.String("client_id", req.ClientID),
			zap.Int("bytes", len(data)),
		)
		writeJSON(w, http.StatusCreated, doc)
	}
}

// documentURLHandler resolves a time-limited download URL. Staff can reach
// any document; a client only their own shared ones.
func documentURLHandler(crm port.CRMStore, objects port.ObjectStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/documents/{docID}/url")
		defer span.End()

		docID := chi.URLParam(r, "docID")
		doc, err := crm.GetDocument(ctx, docID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		entry := EntryFromContext(ctx)
		if entry == nil || !entry.Manager.IsStaff() {
			sess := SessionFromContext(ctx)
			client, err := crm.FindClientByUserID(ctx, sess.UserID)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			if client == nil || client.ID != doc.ClientID || !doc.SharedWithClient {
				writeError(w, http.StatusForbidden, "document not shared with you")
				return
			}
		}

		url, err := objects.SignedURL(ctx, doc.Bucket, doc.Path, signedURLTTL)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"url":        url,
			"expires_in": int(signedURLTTL.Seconds()),
		})
	}
}

func deleteDocumentHandler(crm port.CRMStore, objects port.ObjectStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/documents/{docID}")
		defer span.End()

		docID := chi.URLParam(r, "docID")
		doc, err := crm.GetDocument(ctx, docID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := objects.Delete(ctx, doc.Bucket, doc.Path); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := crm.DeleteDocument(ctx, docID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("documents: deleted",
			zap.String("doc_id", docID),
			zap.String("client_id", doc.ClientID),
		)
		w.WriteHeader(http.StatusNoContent)
	}
}
