package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/responsibility"
)

// ResponsibilityStore returns a responsibility.Store backed by this database.
func (db *DB) ResponsibilityStore() responsibility.Store {
	return &sqliteResponsibility{db: db.sql}
}

type sqliteResponsibility struct {
	db *sql.DB
}

func (s *sqliteResponsibility) Insert(ctx context.Context, r model.ResponsibilityRecord) error {
	var reviewedAt sql.NullString
	if r.ReviewedAt != nil {
		reviewedAt = sql.NullString{String: r.ReviewedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responsibility_records (record_id, decision_id, decision_maker,
		     responsible_party, role, reasoning, confidence, responsibility_level,
		     override_ai, ai_recommendation, review_required, reviewed_by, reviewed_at,
		     liability_accepted, liability_signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RecordID, r.DecisionID, r.DecisionMaker,
		r.ResponsibleParty, r.Role, nullStr(r.Reasoning), r.Confidence, string(r.ResponsibilityLevel),
		boolInt(r.OverrideAI), nullStr(r.AIRecommendation), boolInt(r.ReviewRequired),
		nullStr(r.ReviewedBy), reviewedAt,
		boolInt(r.LiabilityAccepted), nullStr(r.LiabilitySignature),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: insert responsibility record: %w", err)
	}
	return nil
}

// MarkReviewed sets reviewed_by and reviewed_at on an unreviewed record.
func (s *sqliteResponsibility) MarkReviewed(ctx context.Context, recordID, reviewer string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE responsibility_records SET reviewed_by = ?, reviewed_at = ?
		 WHERE record_id = ? AND reviewed_by IS NULL`,
		reviewer, at.UTC().Format(time.RFC3339Nano), recordID)
	if err != nil {
		return fmt.Errorf("storage: mark reviewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark reviewed rows: %w", err)
	}
	if n == 0 {
		return model.WrapError(model.KindNotFound, ErrNotFound, "storage: responsibility record %s unreviewed", recordID)
	}
	return nil
}

const responsibilityColumns = `record_id, decision_id, decision_maker, responsible_party, role,
	reasoning, confidence, responsibility_level, override_ai, ai_recommendation, review_required,
	reviewed_by, reviewed_at, liability_accepted, liability_signature, created_at`

func scanResponsibility(scan func(dest ...any) error) (model.ResponsibilityRecord, error) {
	var r model.ResponsibilityRecord
	var level, createdAt string
	var reasoning, aiRec, reviewedBy, reviewedAt, liabilitySig sql.NullString
	var overrideAI, reviewRequired, liabilityAccepted int
	if err := scan(&r.RecordID, &r.DecisionID, &r.DecisionMaker, &r.ResponsibleParty, &r.Role,
		&reasoning, &r.Confidence, &level, &overrideAI, &aiRec, &reviewRequired,
		&reviewedBy, &reviewedAt, &liabilityAccepted, &liabilitySig, &createdAt); err != nil {
		return r, fmt.Errorf("storage: scan responsibility record: %w", err)
	}
	r.ResponsibilityLevel = model.ResponsibilityLevel(level)
	r.Reasoning = reasoning.String
	r.AIRecommendation = aiRec.String
	r.ReviewedBy = reviewedBy.String
	r.LiabilitySignature = liabilitySig.String
	r.OverrideAI = overrideAI != 0
	r.ReviewRequired = reviewRequired != 0
	r.LiabilityAccepted = liabilityAccepted != 0
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return r, fmt.Errorf("storage: parse created_at: %w", err)
	}
	r.CreatedAt = t
	if reviewedAt.Valid {
		ra, err := time.Parse(time.RFC3339Nano, reviewedAt.String)
		if err != nil {
			return r, fmt.Errorf("storage: parse reviewed_at: %w", err)
		}
		r.ReviewedAt = &ra
	}
	return r, nil
}

func (s *sqliteResponsibility) Get(ctx context.Context, recordID string) (*model.ResponsibilityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+responsibilityColumns+` FROM responsibility_records WHERE record_id = ?`, recordID)
	r, err := scanResponsibility(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.WrapError(model.KindNotFound, ErrNotFound, "storage: responsibility record %s", recordID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteResponsibility) query(ctx context.Context, q string, args ...any) ([]model.ResponsibilityRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query responsibility records: %w", err)
	}
	defer rows.Close()
	var out []model.ResponsibilityRecord
	for rows.Next() {
		r, err := scanResponsibility(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteResponsibility) ByDecision(ctx context.Context, decisionID string) ([]model.ResponsibilityRecord, error) {
	return s.query(ctx,
		`SELECT `+responsibilityColumns+` FROM responsibility_records
		 WHERE decision_id = ? ORDER BY created_at ASC`, decisionID)
}

func (s *sqliteResponsibility) ByParty(ctx context.Context, party string) ([]model.ResponsibilityRecord, error) {
	return s.query(ctx,
		`SELECT `+responsibilityColumns+` FROM responsibility_records
		 WHERE responsible_party = ? ORDER BY created_at ASC`, party)
}

func (s *sqliteResponsibility) PendingReview(ctx context.Context) ([]model.ResponsibilityRecord, error) {
	return s.query(ctx,
		`SELECT `+responsibilityColumns+` FROM responsibility_records
		 WHERE review_required = 1 AND reviewed_by IS NULL ORDER BY created_at ASC`)
}

func (s *sqliteResponsibility) List(ctx context.Context) ([]model.ResponsibilityRecord, error) {
	return s.query(ctx,
		`SELECT `+responsibilityColumns+` FROM responsibility_records ORDER BY created_at ASC`)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
