package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Super admin subscription actions
// ============================================================

func adminActionHandler(admin SubscriptionAdmin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/subscriptions")
		defer span.End()

		// Without a caller identity there is no one to authorize.
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req domain.AdminActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		span.SetAttributes(
			attribute.String("admin.action", req.Action),
			attribute.String("admin.subscription_id", req.SubscriptionID),
		)

		result, err := admin.Execute(ctx, token, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
