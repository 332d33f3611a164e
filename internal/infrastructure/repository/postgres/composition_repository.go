package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const schemaLockKey int64 = 2025031501

// CompositionLogRepository persists the prompt composition audit trail.
type CompositionLogRepository struct {
	db *sql.DB
}

func NewCompositionLogRepository(db *sql.DB) *CompositionLogRepository {
	return &CompositionLogRepository{db: db}
}

// EnsureSchema creates the audit table. The restaurant tables are owned by
// the procurement platform and are never created here.
func (r *CompositionLogRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS prompt_composition_log (
	id TEXT PRIMARY KEY,
	restaurant_id BIGINT,
	telegram_chat_id BIGINT NOT NULL,
	session_id TEXT NOT NULL,
	user_message TEXT NOT NULL,
	detected_intent TEXT NOT NULL,
	intent_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	base_prompt_version TEXT NOT NULL,
	injected_components JSONB NOT NULL DEFAULT '[]'::jsonb,
	context_items_count INTEGER NOT NULL DEFAULT 0,
	final_prompt_token_estimate INTEGER NOT NULL DEFAULT 0,
	prompt_fingerprint TEXT NOT NULL,
	model_used TEXT NOT NULL,
	execution_time_ms BIGINT,
	tool_calls_made JSONB,
	response_length INTEGER,
	error_occurred BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	user_feedback TEXT,
	correction_details TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_prompt_composition_log_restaurant ON prompt_composition_log(restaurant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_prompt_composition_log_intent ON prompt_composition_log(detected_intent);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CompositionLogRepository) WriteComposition(ctx context.Context, entry domain.CompositionEntry) error {
	layers, err := json.Marshal(entry.Layers)
	if err != nil {
		return fmt.Errorf("marshal layers: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO prompt_composition_log (
	id, restaurant_id, telegram_chat_id, session_id, user_message, detected_intent, intent_confidence,
	base_prompt_version, injected_components, context_items_count, final_prompt_token_estimate,
	prompt_fingerprint, model_used, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING
`,
		entry.ID, nullableInt64(entry.RestaurantID), entry.ChatID, entry.SessionID, entry.UserMessage,
		string(entry.Intent), entry.IntentConfidence, entry.BaseVersion, string(layers),
		entry.ContextItemsCount, entry.TokenEstimate, entry.Fingerprint, entry.Model, createdAt.UTC(),
	)
	if err != nil {
		return translateError("insert composition log", err)
	}
	return nil
}

func (r *CompositionLogRepository) WriteResult(ctx context.Context, result domain.CompositionResult) error {
	calls := result.ToolCalls
	if calls == nil {
		calls = []domain.ToolCallSummary{}
	}
	payload, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE prompt_composition_log
SET execution_time_ms = $2, tool_calls_made = $3, response_length = $4,
	error_occurred = $5, error_message = $6, completed_at = $7
WHERE id = $1
`, result.LogID, result.ElapsedMS, string(payload), result.ResponseLength,
		result.Failed, nullableString(result.ErrorMessage), time.Now().UTC())
	if err != nil {
		return translateError("update composition result", err)
	}
	return requireAffected(res, "update composition result", result.LogID)
}

func (r *CompositionLogRepository) WriteFeedback(ctx context.Context, feedback domain.CompositionFeedback) error {
	if !feedback.Kind.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "record feedback", fmt.Errorf("unknown feedback %q", feedback.Kind))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE prompt_composition_log
SET user_feedback = $2, correction_details = $3
WHERE id = $1
`, feedback.LogID, string(feedback.Kind), nullableString(feedback.Details))
	if err != nil {
		return translateError("record feedback", err)
	}
	return requireAffected(res, "record feedback", feedback.LogID)
}

func requireAffected(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("composition log %s", id))
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
