package handler

import (
	"encoding/json"
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/port"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"go.uber.org/zap"
)

// ============================================================
// Auth — credential exchange & gateway event relay
// ============================================================

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func authSignInHandler(gateway port.AuthGateway, h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signin")
		defer span.End()

		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		sess, err := gateway.SignIn(ctx, req.Email, req.Password)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		h.HandleAuthEvent(ctx, sess.UserID, domain.AuthEvent{
			Type:    domain.AuthSignedIn,
			Session: sess,
		})

		writeJSON(w, http.StatusOK, sess)
	}
}

func authSignUpHandler(gateway port.AuthGateway, h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signup")
		defer span.End()

		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		sess, err := gateway.SignUp(ctx, req.Email, req.Password)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// Some gateway configurations require email confirmation before a
		// session exists.
		if sess == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "confirmation_required",
			})
			return
		}

		h.HandleAuthEvent(ctx, sess.UserID, domain.AuthEvent{
			Type:    domain.AuthSignedIn,
			Session: sess,
		})

		writeJSON(w, http.StatusCreated, sess)
	}
}

func authRefreshHandler(gateway port.AuthGateway, h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/refresh")
		defer span.End()

		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refresh_token is required")
			return
		}

		sess, err := gateway.RefreshSession(ctx, req.RefreshToken)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		h.HandleAuthEvent(ctx, sess.UserID, domain.AuthEvent{
			Type:    domain.AuthTokenRefreshed,
			Session: sess,
		})

		writeJSON(w, http.StatusOK, sess)
	}
}

func authSignOutHandler(gateway port.AuthGateway, h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signout")
		defer span.End()

		sess := SessionFromContext(ctx)
		if err := gateway.SignOut(ctx, sess.AccessToken); err != nil {
			logger.Warn("auth: gateway signout failed", zap.Error(err))
		}

		// Local teardown happens regardless of the gateway call's outcome.
		h.HandleAuthEvent(ctx, sess.UserID, domain.AuthEvent{Type: domain.AuthSignedOut})

		w.WriteHeader(http.StatusNoContent)
	}
}

// authEventHandler lets the frontend relay a gateway auth-state
// notification. The event only ever applies to the caller's own identity:
// the user id comes from the verified token, never from the body.
func authEventHandler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/event")
		defer span.End()

		var evt domain.AuthEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := SessionFromContext(ctx)
		switch evt.Type {
		case domain.AuthSignedIn, domain.AuthTokenRefreshed:
			if evt.Session == nil || evt.Session.UserID != sess.UserID {
				writeError(w, http.StatusBadRequest, "event session does not match caller")
				return
			}
		case domain.AuthSignedOut:
			// No session payload expected.
		default:
			writeError(w, http.StatusBadRequest, "unknown event type")
			return
		}

		h.HandleAuthEvent(ctx, sess.UserID, evt)
		w.WriteHeader(http.StatusAccepted)
	}
}
