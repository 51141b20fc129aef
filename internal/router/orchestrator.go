package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/types"
)

// OutcomeStatus tags the terminal state of one routed request.
type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeExhausted    OutcomeStatus = "exhausted"
	OutcomeFatal        OutcomeStatus = "fatal"
	OutcomeCancelled    OutcomeStatus = "cancelled"
	OutcomeNoCandidates OutcomeStatus = "no_candidates"
)

// AttemptStatus classifies one candidate attempt.
type AttemptStatus string

const (
	AttemptSuccess     AttemptStatus = "success"
	AttemptTransient   AttemptStatus = "transient_error"
	AttemptRateLimited AttemptStatus = "rate_limited"
	AttemptFatal       AttemptStatus = "fatal_error"
)

// Attempt is one entry of the per-candidate trace attached to every outcome.
type Attempt struct {
	Backend    string        `json:"backend"`
	Score      float64       `json:"score"`
	Status     AttemptStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
}

// Outcome is the typed result of executing a candidate list. Failure modes
// are values, not panics or naked errors, and the attempt trace is never
// dropped.
type Outcome struct {
	Status         OutcomeStatus
	Backend        string
	Response       *types.RelayResponse
	Classification *Classification
	Attempts       []Attempt
	Err            error
}

// InvokeFunc performs one backend call. Supplied by the engine, backed by
// the provider adapter registry.
type InvokeFunc func(ctx context.Context, backend *catalog.Descriptor) (*types.RelayResponse, error)

// Orchestrator walks a ranked candidate list until one backend succeeds,
// feeding every attempt's result back into the ledger, health tracker, and
// usage recorder. Each request tries each distinct backend at most once, so
// attempts are bounded by the candidate list length; backoff after transient
// failures applies to future requests via the health tracker, not as an
// in-request delay.
type Orchestrator struct {
	ledger *Ledger
	health *HealthTracker
	usage  *UsageRecorder
	logger *slog.Logger
}

func NewOrchestrator(ledger *Ledger, health *HealthTracker, usage *UsageRecorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		ledger: ledger,
		health: health,
		usage:  usage,
		logger: logger,
	}
}

// Execute tries candidates in order and returns the first success, a fatal
// abort, a cancellation, or exhaustion. Cancellation is checked between
// candidates; the in-flight adapter call owns its own timeout.
func (o *Orchestrator) Execute(ctx context.Context, candidates []Candidate, invoke InvokeFunc) *Outcome {
	if len(candidates) == 0 {
		return &Outcome{
			Status: OutcomeNoCandidates,
			Err:    fmt.Errorf("no eligible backends"),
		}
	}

	attempts := make([]Attempt, 0, len(candidates))

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return &Outcome{
				Status:   OutcomeCancelled,
				Attempts: attempts,
				Err:      fmt.Errorf("request cancelled before attempt %d: %w", i+1, err),
			}
		}

		backendID := c.Backend.ID
		start := time.Now()
		resp, err := invoke(ctx, c.Backend)
		elapsed := time.Since(start)

		// Every attempt counts toward load spreading, whatever its result.
		o.usage.Record(backendID)

		if err == nil {
			o.ledger.RecordUsage(backendID, resp.Usage.TotalTokens)
			o.health.ReportSuccess(backendID)
			attempts = append(attempts, Attempt{
				Backend: backendID, Score: c.Score, Status: AttemptSuccess, Duration: elapsed,
			})
			return &Outcome{
				Status:   OutcomeSuccess,
				Backend:  backendID,
				Response: resp,
				Attempts: attempts,
			}
		}

		// Caller went away while the call was in flight.
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{
				Backend: backendID, Score: c.Score, Status: AttemptTransient,
				Error: err.Error(), Duration: elapsed,
			})
			return &Outcome{
				Status:   OutcomeCancelled,
				Attempts: attempts,
				Err:      fmt.Errorf("request cancelled during attempt %d: %w", i+1, ctx.Err()),
			}
		}

		if retryAfter, ok := adapters.IsRateLimited(err); ok {
			// Rate limiting is an expected condition: it sets a cooldown but
			// never degrades health. Advance immediately, no delay.
			o.ledger.RecordRateLimited(backendID, retryAfter)
			attempts = append(attempts, Attempt{
				Backend: backendID, Score: c.Score, Status: AttemptRateLimited,
				Error: err.Error(), RetryAfter: retryAfter, Duration: elapsed,
			})
			o.logger.Warn("backend rate limited, advancing",
				"backend", backendID, "retry_after", retryAfter, "attempt", i+1)
			continue
		}

		if adapters.IsTransient(err) {
			o.health.ReportFailure(backendID)
			attempts = append(attempts, Attempt{
				Backend: backendID, Score: c.Score, Status: AttemptTransient,
				Error: err.Error(), Duration: elapsed,
			})
			o.logger.Warn("backend failed, advancing",
				"backend", backendID, "error", err, "attempt", i+1)
			continue
		}

		// Fatal: retrying other backends cannot fix a client-side problem.
		// The backend's health is not penalized.
		attempts = append(attempts, Attempt{
			Backend: backendID, Score: c.Score, Status: AttemptFatal,
			Error: err.Error(), Duration: elapsed,
		})
		return &Outcome{
			Status:   OutcomeFatal,
			Backend:  backendID,
			Attempts: attempts,
			Err:      err,
		}
	}

	return &Outcome{
		Status:   OutcomeExhausted,
		Attempts: attempts,
		Err:      fmt.Errorf("all %d candidates failed", len(candidates)),
	}
}
