package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spaces-summarizer/internal/models"
)

// Store wraps pgxpool for Postgres persistence. It owns the summary
// records, the consumed-proof set, and the pipeline audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ConsumeProof records the signature as spent. The insert-if-absent is
// the single point of truth for replay protection: of any number of
// concurrent callers with the same signature, exactly one observes
// inserted=true.
func (s *Store) ConsumeProof(ctx context.Context, signature, requester string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consumed_proofs (signature, requester)
		VALUES ($1, $2)
		ON CONFLICT (signature) DO NOTHING
	`, signature, requester)
	if err != nil {
		return false, fmt.Errorf("consume proof: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ProofConsumed reports whether the signature is already in the
// consumed set, without claiming it.
func (s *Store) ProofConsumed(ctx context.Context, signature string) (bool, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM consumed_proofs WHERE signature = $1
	`, signature).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query consumed proof: %w", err)
	}
	return n > 0, nil
}

// CreateSummary persists a freshly delivered result and returns its id.
func (s *Store) CreateSummary(ctx context.Context, owner, content string, tier models.Tier, sourceURL string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO summaries (id, owner_id, content, tier, source_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, owner, content, string(tier), sourceURL, now)
	if err != nil {
		return "", fmt.Errorf("insert summary: %w", err)
	}
	return id, nil
}

// GetSummary fetches a record with its full edit history, oldest first.
func (s *Store) GetSummary(ctx context.Context, id string) (models.SummaryRecord, error) {
	var rec models.SummaryRecord
	var tier string
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, content, tier, source_url, created_at
		FROM summaries WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Owner, &rec.Content, &tier, &rec.SourceURL, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SummaryRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		return models.SummaryRecord{}, fmt.Errorf("scan summary: %w", err)
	}
	rec.Tier = models.Tier(tier)

	rows, err := s.pool.Query(ctx, `
		SELECT editor, prior_content, edited_at
		FROM summary_edits WHERE summary_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return models.SummaryRecord{}, fmt.Errorf("query edits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e models.SummaryEdit
		if err := rows.Scan(&e.Editor, &e.PriorContent, &e.EditedAt); err != nil {
			return models.SummaryRecord{}, fmt.Errorf("scan edit: %w", err)
		}
		rec.Edits = append(rec.Edits, e)
	}
	if err := rows.Err(); err != nil {
		return models.SummaryRecord{}, fmt.Errorf("iterate edits: %w", err)
	}
	return rec, nil
}

// EditSummary replaces the current content and appends the prior content
// to history. The row lock serializes concurrent edits to the same
// record; edits to distinct records do not contend. Identical content
// resubmitted as a new edit still appends a history entry.
func (s *Store) EditSummary(ctx context.Context, id, editor, newContent string, elevated bool) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var owner, current string
	err = tx.QueryRow(ctx, `
		SELECT owner_id, content FROM summaries WHERE id = $1 FOR UPDATE
	`, id).Scan(&owner, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("lock summary: %w", err)
	}
	if owner != editor && !elevated {
		return models.ErrNotOwner
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO summary_edits (summary_id, editor, prior_content)
		VALUES ($1, $2, $3)
	`, id, editor, current); err != nil {
		return fmt.Errorf("insert edit: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE summaries SET content = $2, updated_at = NOW() WHERE id = $1
	`, id, newContent); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row for the requester's pipeline.
func (s *Store) AppendAudit(ctx context.Context, requester, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_audit (requester, event, detail)
		VALUES ($1, $2, $3)
	`, requester, event, detail)
	return err
}

// AuditTrail returns the most recent audit events for a requester.
func (s *Store) AuditTrail(ctx context.Context, requester string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT requester, event, detail, ts
		FROM pipeline_audit WHERE requester = $1 ORDER BY id DESC LIMIT $2
	`, requester, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(&a.Requester, &a.Event, &a.Detail, &a.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
