package messages

import (
	"context"
	"strings"
)

// matchQuery wraps an expression as an exact-phrase full-text query.
// The index is trigram-tokenized, so the phrase matches as a substring
// anywhere inside message content, including within words.
func matchQuery(expression string) string {
	return `"` + strings.ReplaceAll(expression, `"`, `""`) + `"`
}

// Optimize compacts the store for read performance: reclaims free pages,
// refreshes planner statistics and merges the full-text index segments.
// Safe to run at any time; no semantic change.
func (s *Service) Optimize(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec(`VACUUM`).Error; err != nil {
		s.logError(opOptimize, "vacuum_failed", err)
		return newServiceError(opOptimize, "vacuum_failed", err)
	}
	if err := db.Exec(`ANALYZE`).Error; err != nil {
		s.logError(opOptimize, "analyze_failed", err)
		return newServiceError(opOptimize, "analyze_failed", err)
	}
	if err := db.Exec(`INSERT INTO messageindex(messageindex) VALUES('optimize')`).Error; err != nil {
		s.logError(opOptimize, "index_optimize_failed", err)
		return newServiceError(opOptimize, "index_optimize_failed", err)
	}
	return nil
}

// RebuildIndex regenerates the full-text index from the message table and
// optimizes it. This is the repair path for index corruption or a tokenizer
// scheme change; the hot write path never self-heals.
func (s *Service) RebuildIndex(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec(`INSERT INTO messageindex(messageindex) VALUES('rebuild')`).Error; err != nil {
		s.logError(opRebuildIndex, "rebuild_failed", err)
		return newServiceError(opRebuildIndex, "rebuild_failed", err)
	}
	return s.Optimize(ctx)
}
