package handler

import (
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Tenant subscription status
// ============================================================

func subscriptionStatusHandler(status StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscription/status")
		defer span.End()

		writeJSON(w, http.StatusOK, status.Current(ctx, EmpresaIDFromContext(ctx)))
	}
}

func subscriptionGuardHandler(status StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscription/guard")
		defer span.End()

		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}

		writeJSON(w, http.StatusOK, status.Check(ctx, EmpresaIDFromContext(ctx), path))
	}
}

func startTrialHandler(status StatusReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/subscriptions/trial")
		defer span.End()

		empresaID := EmpresaIDFromContext(ctx)
		if empresaID == "" {
			handleServiceError(w, &domain.ErrNotFound{Resource: "empresa", ID: CallerFromContext(ctx).UserID}, logger)
			return
		}

		sub, created, err := status.StartTrial(ctx, empresaID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, sub)
	}
}

type sessionResponse struct {
	UserID       string          `json:"user_id"`
	Email        string          `json:"email,omitempty"`
	EmpresaID    string          `json:"empresa_id"`
	Subscription access.Decision `json:"subscription"`
}

// sessionHandler sits behind RequireAccess and reports who the caller is and
// the subscription state that let them in.
func sessionHandler(status StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := CallerFromContext(ctx)
		empresaID := EmpresaIDFromContext(ctx)

		writeJSON(w, http.StatusOK, sessionResponse{
			UserID:       caller.UserID,
			Email:        caller.Email,
			EmpresaID:    empresaID,
			Subscription: status.Current(ctx, empresaID),
		})
	}
}
