package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-router/internal/auth"
	"github.com/af-corp/relay-router/internal/httputil"
	"github.com/af-corp/relay-router/internal/telemetry"
)

const (
	defaultRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitResetRequests     = "X-RateLimit-Reset-Requests"
	headerRateLimitTokens            = "X-RateLimit-Limit-Tokens"
	headerRateLimitRemainingTokens   = "X-RateLimit-Remaining-Tokens"
	headerRateLimitResetTokens       = "X-RateLimit-Reset-Tokens"
	headerRetryAfter                 = "Retry-After"
)

// Limits is the window arithmetic the middleware needs from the limiter.
type Limits interface {
	TakeRequest(ctx context.Context, keyID string, limit int) (Decision, error)
	CheckTokens(ctx context.Context, keyID string, limit int) (Decision, error)
}

// Middleware enforces per-key inbound limits: requests per minute always,
// tokens per minute when the key carries a TPM limit. Backend-side budgets
// are the routing ledger's job.
func Middleware(limiter Limits, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authInfo, ok := auth.AuthFromContext(r.Context())
			if !ok {
				// No auth info: let request pass (auth middleware will catch it)
				next.ServeHTTP(w, r)
				return
			}

			rpm := defaultRPM
			if authInfo.RPMLimit != nil {
				rpm = *authInfo.RPMLimit
			}

			reqDec, err := limiter.TakeRequest(r.Context(), authInfo.KeyID, rpm)
			if err != nil {
				slog.Warn("request limit check failed", "request_id", reqID, "error", err)
			}

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(reqDec.Remaining, 10))
			w.Header().Set(headerRateLimitResetRequests, reqDec.ResetAt.Format(time.RFC3339))

			if !reqDec.Allowed {
				deny(w, reqID, authInfo, metrics, "requests", rpm, reqDec)
				return
			}

			if authInfo.TPMLimit != nil {
				tpm := *authInfo.TPMLimit
				tokDec, err := limiter.CheckTokens(r.Context(), authInfo.KeyID, tpm)
				if err != nil {
					slog.Warn("token limit check failed", "request_id", reqID, "error", err)
				}

				w.Header().Set(headerRateLimitTokens, strconv.Itoa(tpm))
				w.Header().Set(headerRateLimitRemainingTokens, strconv.FormatInt(tokDec.Remaining, 10))
				w.Header().Set(headerRateLimitResetTokens, tokDec.ResetAt.Format(time.RFC3339))

				if !tokDec.Allowed {
					deny(w, reqID, authInfo, metrics, "tokens", tpm, tokDec)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, reqID string, info *auth.AuthInfo, metrics *telemetry.Metrics, dimension string, limit int, dec Decision) {
	slog.Warn("inbound rate limit exceeded",
		"request_id", reqID,
		"key_id", info.KeyID,
		"dimension", dimension,
		"limit", limit,
	)
	if metrics != nil {
		metrics.RecordInboundRateLimitHit(info.Name)
	}
	w.Header().Set(headerRetryAfter, strconv.Itoa(int(dec.RetryAfter.Seconds())))
	httputil.WriteRateLimitError(w, reqID,
		fmt.Sprintf("Rate limit exceeded: %d %s per minute. Retry after %s", limit, dimension, dec.ResetAt.Format(time.RFC3339)))
}
