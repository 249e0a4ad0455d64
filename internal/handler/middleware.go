package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"go.uber.org/zap"
)

type contextKey string

const (
	callerKey  contextKey = "caller"
	empresaKey contextKey = "empresaID"
)

// AuthMiddleware validates Supabase bearer tokens and injects the caller and
// its tenant into the context. A caller without a resolvable tenant gets an
// empty tenant, which every subscription read treats as "no subscription".
func AuthMiddleware(verifier port.TokenVerifier, status StatusReader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn("auth: missing or malformed token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			caller, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			empresaID, err := status.TenantOf(r.Context(), caller.UserID)
			var notFound *domain.ErrNotFound
			if err != nil && !errors.As(err, &notFound) {
				logger.Error("auth: tenant lookup failed",
					zap.String("user_id", caller.UserID),
					zap.Error(err),
				)
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			ctx = context.WithValue(ctx, empresaKey, empresaID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess answers 402 with the billing redirect when the caller's tenant
// has no access. Must run after AuthMiddleware.
func RequireAccess(status StatusReader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			empresaID := EmpresaIDFromContext(r.Context())
			d := status.Current(r.Context(), empresaID)
			if !d.Granted {
				logger.Info("access denied by subscription state",
					zap.String("empresa_id", empresaID),
					zap.String("status", string(d.Status)),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusPaymentRequired, accessDeniedResponse{
					Error:    "subscription required",
					Label:    d.Label,
					Redirect: status.BillingPath(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type accessDeniedResponse struct {
	Error    string `json:"error"`
	Label    string `json:"label"`
	Redirect string `json:"redirect"`
}

// CallerFromContext extracts the authenticated caller from context.
func CallerFromContext(ctx context.Context) *domain.Caller {
	v, _ := ctx.Value(callerKey).(*domain.Caller)
	return v
}

// EmpresaIDFromContext extracts the caller's tenant from context.
func EmpresaIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(empresaKey).(string)
	return v
}
