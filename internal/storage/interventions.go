package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
)

// InterventionStore returns an oversight.Store backed by this database.
func (db *DB) InterventionStore() oversight.Store {
	return &sqliteInterventions{db: db.sql}
}

type sqliteInterventions struct {
	db *sql.DB
}

func (s *sqliteInterventions) Insert(ctx context.Context, iv model.HumanIntervention) error {
	aiRec, err := json.Marshal(iv.AIRecommendation)
	if err != nil {
		return fmt.Errorf("storage: marshal ai recommendation: %w", err)
	}
	humanDec, err := json.Marshal(iv.HumanDecision)
	if err != nil {
		return fmt.Errorf("storage: marshal human decision: %w", err)
	}
	var reqCtx sql.NullString
	if iv.RequestContext != nil {
		b, err := json.Marshal(iv.RequestContext)
		if err != nil {
			return fmt.Errorf("storage: marshal request context: %w", err)
		}
		reqCtx = sql.NullString{String: string(b), Valid: true}
	}
	var respMS sql.NullInt64
	if iv.ResponseTimeMS != nil {
		respMS = sql.NullInt64{Int64: *iv.ResponseTimeMS, Valid: true}
	}
	ts := iv.Timestamp.UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interventions (intervention_id, timestamp, ts_ns, intervention_type,
		     ai_recommendation, ai_confidence, human_decision, human_role, reason,
		     request_context, signature, response_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.InterventionID, ts.Format(time.RFC3339Nano), ts.UnixNano(), string(iv.InterventionType),
		string(aiRec), iv.AIConfidence, string(humanDec), iv.HumanRole, iv.Reason,
		reqCtx, nullStr(iv.Signature), respMS,
	)
	if err != nil {
		return fmt.Errorf("storage: insert intervention: %w", err)
	}
	return nil
}

const interventionColumns = `intervention_id, timestamp, intervention_type, ai_recommendation,
	ai_confidence, human_decision, human_role, reason, request_context, signature, response_time_ms`

func scanIntervention(scan func(dest ...any) error) (model.HumanIntervention, error) {
	var iv model.HumanIntervention
	var ts, aiRec, humanDec string
	var ivType string
	var reqCtx, sig sql.NullString
	var respMS sql.NullInt64
	if err := scan(&iv.InterventionID, &ts, &ivType, &aiRec,
		&iv.AIConfidence, &humanDec, &iv.HumanRole, &iv.Reason, &reqCtx, &sig, &respMS); err != nil {
		return iv, fmt.Errorf("storage: scan intervention: %w", err)
	}
	iv.InterventionType = model.InterventionType(ivType)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return iv, fmt.Errorf("storage: parse intervention timestamp: %w", err)
	}
	iv.Timestamp = t
	if err := json.Unmarshal([]byte(aiRec), &iv.AIRecommendation); err != nil {
		return iv, fmt.Errorf("storage: unmarshal ai recommendation: %w", err)
	}
	if err := json.Unmarshal([]byte(humanDec), &iv.HumanDecision); err != nil {
		return iv, fmt.Errorf("storage: unmarshal human decision: %w", err)
	}
	if reqCtx.Valid {
		if err := json.Unmarshal([]byte(reqCtx.String), &iv.RequestContext); err != nil {
			return iv, fmt.Errorf("storage: unmarshal request context: %w", err)
		}
	}
	if sig.Valid {
		iv.Signature = sig.String
	}
	if respMS.Valid {
		ms := respMS.Int64
		iv.ResponseTimeMS = &ms
	}
	return iv, nil
}

func (s *sqliteInterventions) List(ctx context.Context, f oversight.Filter) ([]model.HumanIntervention, error) {
	q := `SELECT ` + interventionColumns + ` FROM interventions WHERE 1=1`
	var args []any
	if f.Type != "" {
		q += ` AND intervention_type = ?`
		args = append(args, string(f.Type))
	}
	if f.HumanRole != "" {
		q += ` AND human_role = ?`
		args = append(args, f.HumanRole)
	}
	if !f.From.IsZero() {
		q += ` AND ts_ns >= ?`
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		q += ` AND ts_ns <= ?`
		args = append(args, f.To.UnixNano())
	}
	q += ` ORDER BY ts_ns ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list interventions: %w", err)
	}
	defer rows.Close()
	var out []model.HumanIntervention
	for rows.Next() {
		iv, err := scanIntervention(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *sqliteInterventions) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interventions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count interventions: %w", err)
	}
	return n, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
