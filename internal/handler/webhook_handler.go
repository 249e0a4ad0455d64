package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWebhookBody caps a single delivery. Provider payloads are a few KiB.
const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Success   bool `json:"success"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

// webhookHandler reads the raw body before decoding: the signature covers the
// exact bytes the provider sent.
func webhookHandler(webhooks WebhookProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/billing")
		defer span.End()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := webhooks.Handle(ctx, body, r.Header.Get(service.SignatureHeader))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		span.SetAttributes(
			attribute.String("webhook.type", result.Type),
			attribute.Bool("webhook.duplicate", result.Duplicate),
		)
		writeJSON(w, http.StatusOK, webhookResponse{
			Success:   true,
			Duplicate: result.Duplicate,
			Ignored:   result.Ignored,
		})
	}
}
