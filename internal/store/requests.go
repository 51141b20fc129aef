package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestRecord is one completed routed request, persisted for usage
// reporting and offline analysis.
type RequestRecord struct {
	RequestID        string
	APIKeyID         string
	Category         string
	Provider         string
	Model            string
	Backend          string
	Outcome          string
	Attempts         int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	DurationMs       int64
	CreatedAt        time.Time
}

// UsageSummary aggregates the request log per backend over a period.
type UsageSummary struct {
	Backend     string  `json:"backend"`
	Requests    int64   `json:"requests"`
	TotalTokens int64   `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
}

// RequestStore persists routed requests in PostgreSQL.
type RequestStore struct {
	db *pgxpool.Pool
}

func NewRequestStore(db *pgxpool.Pool) *RequestStore {
	return &RequestStore{db: db}
}

// Insert writes one request record. Persistence failures must not fail the
// request; callers log and move on.
func (s *RequestStore) Insert(ctx context.Context, rec *RequestRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_log (
			request_id, api_key_id, category, provider, model, backend,
			outcome, attempts, prompt_tokens, completion_tokens, total_tokens,
			cost_usd, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		rec.RequestID, rec.APIKeyID, rec.Category, rec.Provider, rec.Model, rec.Backend,
		rec.Outcome, rec.Attempts, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request_log: %w", err)
	}
	return nil
}

// Summary aggregates usage per backend since the given time.
func (s *RequestStore) Summary(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT backend, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM request_log
		WHERE created_at >= $1 AND backend <> ''
		GROUP BY backend
		ORDER BY backend
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query request_log summary: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var s UsageSummary
		if err := rows.Scan(&s.Backend, &s.Requests, &s.TotalTokens, &s.CostUSD); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
