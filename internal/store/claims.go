package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/citeseek/citeseek/internal/ids"
)

// SaveClaims persists a message's claims and their evidence in a single
// transaction. Support scores are clamped into [0,1] at the boundary so the
// CHECK constraint can never fire on provider noise.
func (s *Store) SaveClaims(ctx context.Context, messageID string, claims []Claim) error {
	if len(claims) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		claimStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO claims (id, message_id, text, claim_type, support_score, contradicted, uncertainty_reason)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`)
		if err != nil {
			return err
		}
		defer claimStmt.Close()
		evStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO claim_evidence (id, claim_id, source_id, chunk_id, quote, char_start, char_end, score)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer evStmt.Close()

		for i := range claims {
			c := &claims[i]
			if c.ID == "" {
				c.ID = ids.New()
			}
			c.MessageID = messageID
			score := clamp01(c.SupportScore)
			if _, err := claimStmt.ExecContext(ctx, c.ID, messageID, c.Text, c.ClaimType,
				score, boolInt(c.Contradicted), c.UncertaintyReason); err != nil {
				return fmt.Errorf("insert claim: %w", err)
			}
			for j := range c.Evidence {
				e := &c.Evidence[j]
				if e.ID == "" {
					e.ID = ids.New()
				}
				e.ClaimID = c.ID
				if _, err := evStmt.ExecContext(ctx, e.ID, c.ID, e.SourceID, e.ChunkID,
					e.Quote, e.CharStart, e.CharEnd, e.Score); err != nil {
					return fmt.Errorf("insert evidence: %w", err)
				}
			}
		}
		return nil
	})
}

// GetClaims returns a message's claims with their evidence.
func (s *Store) GetClaims(ctx context.Context, messageID string) ([]Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, text, COALESCE(claim_type, ''), support_score, contradicted, COALESCE(uncertainty_reason, '')
		FROM claims WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		var c Claim
		var contradicted int
		if err := rows.Scan(&c.ID, &c.MessageID, &c.Text, &c.ClaimType, &c.SupportScore, &contradicted, &c.UncertaintyReason); err != nil {
			return nil, err
		}
		c.Contradicted = contradicted != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		ev, err := s.getEvidence(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Evidence = ev
	}
	return out, nil
}

func (s *Store) getEvidence(ctx context.Context, claimID string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, source_id, COALESCE(chunk_id, ''), quote, char_start, char_end, score
		FROM claim_evidence WHERE claim_id = ? ORDER BY id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Evidence
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.SourceID, &e.ChunkID, &e.Quote, &e.CharStart, &e.CharEnd, &e.Score); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertCitations stores per-message citations.
func (s *Store) InsertCitations(ctx context.Context, cits []Citation) error {
	if len(cits) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO citations (id, message_id, source_id, chunk_id, quote, char_start, char_end, rank_score)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range cits {
			c := &cits[i]
			if c.ID == "" {
				c.ID = ids.New()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.MessageID, c.SourceID, c.ChunkID,
				c.Quote, c.CharStart, c.CharEnd, c.RankScore); err != nil {
				return err
			}
		}
		return nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
