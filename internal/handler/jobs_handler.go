package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"go.uber.org/zap"
)

// CronSecretHeader carries the shared secret of the scheduler.
const CronSecretHeader = "X-Cron-Secret"

type sweepErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func trialSweepHandler(sweeper TrialSweeper, cronSecret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/jobs/trial-sweep")
		defer span.End()

		got := r.Header.Get(CronSecretHeader)
		if cronSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(cronSecret)) != 1 {
			logger.Warn("trial sweep: bad cron secret", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		result, err := sweeper.Run(ctx)
		if err != nil {
			logger.Error("trial sweep failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, sweepErrorResponse{Error: "trial sweep failed"})
			return
		}
		if result == nil {
			result = &domain.SweepResult{Success: true}
		}

		writeJSON(w, http.StatusOK, result)
	}
}
