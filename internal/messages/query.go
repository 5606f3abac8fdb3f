package messages

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrEmptyExpression indicates a full-text query with no searchable content.
var ErrEmptyExpression = errors.New("messages: expression is empty")

// TrendPoint is one day of normalized expression frequency: the fraction of
// that day's archived messages whose content contains the expression.
type TrendPoint struct {
	Date      string  `gorm:"column:date"`
	Frequency float64 `gorm:"column:frequency"`
}

// TrendResult carries the matched days plus the archive's overall first and
// last day, so callers can bound a continuous plotting window. Days with
// zero matches are absent from Points; the caller fills them with zero.
type TrendResult struct {
	Points   []TrendPoint
	FirstDay string
	LastDay  string
}

// Trend computes the per-day normalized frequency of an expression matched
// as an exact contiguous phrase against the full-text index.
func (s *Service) Trend(ctx context.Context, expression string) (TrendResult, error) {
	if strings.TrimSpace(expression) == "" {
		return TrendResult{}, newServiceError(opTrend, "empty_expression", ErrEmptyExpression)
	}

	var points []TrendPoint
	err := s.db.WithContext(ctx).Raw(
		`WITH matched AS (
		   SELECT rowid FROM messageindex WHERE messageindex MATCH ?
		 ),
		 matched_days AS (
		   SELECT DATE(m.timestamp_s, 'unixepoch') AS date, COUNT(*) AS matches
		   FROM message m
		   JOIN matched ON m.rowid = matched.rowid
		   GROUP BY DATE(m.timestamp_s, 'unixepoch')
		 )
		 SELECT md.date AS date, matched_days.matches / CAST(md.count AS REAL) AS frequency
		 FROM matched_days
		 JOIN messageday md ON matched_days.date = md.date
		 ORDER BY md.date ASC`,
		matchQuery(expression),
	).Scan(&points).Error
	if err != nil {
		s.logError(opTrend, "match_failed", err)
		return TrendResult{}, newServiceError(opTrend, "match_failed", err)
	}

	var bounds struct {
		FirstDay *string `gorm:"column:first_day"`
		LastDay  *string `gorm:"column:last_day"`
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT MIN(date) AS first_day, MAX(date) AS last_day FROM messageday`,
	).Scan(&bounds).Error
	if err != nil {
		s.logError(opTrend, "bounds_failed", err)
		return TrendResult{}, newServiceError(opTrend, "bounds_failed", err)
	}

	result := TrendResult{Points: points}
	if bounds.FirstDay != nil {
		result.FirstDay = *bounds.FirstDay
	}
	if bounds.LastDay != nil {
		result.LastDay = *bounds.LastDay
	}
	return result, nil
}

// RankEntry is one author's usage count for an expression. Author resolves
// to a real platform id only when that author has opted in; everyone else
// stays pseudonymous.
type RankEntry struct {
	Author pseudonym.AuthorRef
	Count  int64
}

// Rank returns per-author usage counts for an expression, descending by
// count with author id as a stable tiebreak.
func (s *Service) Rank(ctx context.Context, expression string) ([]RankEntry, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, newServiceError(opRank, "empty_expression", ErrEmptyExpression)
	}

	var rows []struct {
		AuthorID     string  `gorm:"column:author_id"`
		RealAuthorID *string `gorm:"column:real_author_id"`
		Count        int64   `gorm:"column:count"`
	}
	err := s.db.WithContext(ctx).Raw(
		`WITH matched AS (
		   SELECT rowid FROM messageindex WHERE messageindex MATCH ?
		 )
		 SELECT m.author_id AS author_id, i.real_author_id AS real_author_id, COUNT(*) AS count
		 FROM matched
		 JOIN message m ON m.rowid = matched.rowid
		 LEFT JOIN identity i ON m.author_id = i.author_id
		 GROUP BY m.author_id
		 ORDER BY count DESC, m.author_id ASC`,
		matchQuery(expression),
	).Scan(&rows).Error
	if err != nil {
		s.logError(opRank, "match_failed", err)
		return nil, newServiceError(opRank, "match_failed", err)
	}

	entries := make([]RankEntry, 0, len(rows))
	for _, row := range rows {
		author := pseudonym.Pseudonymous(row.AuthorID)
		if row.RealAuthorID != nil {
			author = pseudonym.Real(*row.RealAuthorID)
		}
		entries = append(entries, RankEntry{Author: author, Count: row.Count})
	}
	return entries, nil
}

// RandomFilters narrows RandomMessage selection. Zero values mean "no
// constraint". AuthorID takes the real platform id and is pseudonymized
// before matching.
type RandomFilters struct {
	ChannelID         string
	RequireAttachment bool
	MinContentLength  int
	AuthorID          string
}

// RandomMessage picks one archived message uniformly at random among those
// matching every supplied filter. Returns nil when nothing matches.
func (s *Service) RandomMessage(ctx context.Context, filters RandomFilters) (*Message, error) {
	query := s.db.WithContext(ctx).Model(&Message{})
	if filters.ChannelID != "" {
		query = query.Where("channel_id = ?", filters.ChannelID)
	}
	if filters.RequireAttachment {
		query = query.Where("attachment_url IS NOT NULL")
	}
	if filters.MinContentLength > 0 {
		query = query.Where("content IS NOT NULL AND LENGTH(content) >= ?", filters.MinContentLength)
	}
	if filters.AuthorID != "" {
		query = query.Where("author_id = ?", s.hasher.Hash(filters.AuthorID))
	}

	var message Message
	err := query.Order("RANDOM()").Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opRandom, "query_failed", err)
		return nil, newServiceError(opRandom, "query_failed", err)
	}
	return &message, nil
}

// ChannelStat aggregates one channel's archive.
type ChannelStat struct {
	Count            int64
	FirstMessageTime time.Time
	LastMessageTime  time.Time
}

// ChannelStats returns per-channel message counts and first/last message
// times across the whole archive.
func (s *Service) ChannelStats(ctx context.Context) (map[string]ChannelStat, error) {
	var rows []struct {
		ChannelID    string `gorm:"column:channel_id"`
		Count        int64  `gorm:"column:count"`
		FirstSeconds int64  `gorm:"column:first_s"`
		LastSeconds  int64  `gorm:"column:last_s"`
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT channel_id,
		        COUNT(*) AS count,
		        MIN(timestamp_s) AS first_s,
		        MAX(timestamp_s) AS last_s
		 FROM message
		 GROUP BY channel_id`,
	).Scan(&rows).Error
	if err != nil {
		s.logError(opChannelStats, "query_failed", err)
		return nil, newServiceError(opChannelStats, "query_failed", err)
	}

	stats := make(map[string]ChannelStat, len(rows))
	for _, row := range rows {
		stats[row.ChannelID] = ChannelStat{
			Count:            row.Count,
			FirstMessageTime: time.Unix(row.FirstSeconds, 0).UTC(),
			LastMessageTime:  time.Unix(row.LastSeconds, 0).UTC(),
		}
	}
	return stats, nil
}

// ExportForAuthor returns every archived message of one author, oldest
// first, for data-portability requests. The input is the real platform id.
func (s *Service) ExportForAuthor(ctx context.Context, realAuthorID string) ([]Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("author_id = ?", s.hasher.Hash(realAuthorID)).
		Order("timestamp_s ASC, message_id ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opExport, "query_failed", err)
		return nil, newServiceError(opExport, "query_failed", err)
	}
	return rows, nil
}

// DeleteForAuthor removes one message if and only if it both matches the
// given id and belongs to the given author. Returns whether a row was
// actually removed.
func (s *Service) DeleteForAuthor(ctx context.Context, realAuthorID, messageID string) (bool, error) {
	hashed := s.hasher.Hash(realAuthorID)
	removed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message Message
		err := tx.Where("message_id = ? AND author_id = ?", messageID, hashed).Take(&message).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(opDeleteForUser, "lookup_failed", err)
		}
		result := tx.Where("message_id = ? AND author_id = ?", messageID, hashed).Delete(&Message{})
		if result.Error != nil {
			return newServiceError(opDeleteForUser, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if err := decrementDay(tx, message.Day(), 1); err != nil {
			return newServiceError(opDeleteForUser, "day_decrement_failed", err)
		}
		removed = true
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteForUser, "transaction_failed", txErr, zap.String("message_id", messageID))
		return false, txErr
	}
	return removed, nil
}
