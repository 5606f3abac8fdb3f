package messages

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func incrementDay(tx *gorm.DB, day string, count int64) error {
	return tx.Exec(
		`INSERT INTO messageday (date, count) VALUES (?, ?)
		 ON CONFLICT(date) DO UPDATE SET count = count + excluded.count`,
		day, count,
	).Error
}

// Decrements floor at zero and drop emptied buckets, so the incrementally
// maintained table stays identical to what RebuildDayCounts would produce.
func decrementDay(tx *gorm.DB, day string, count int64) error {
	err := tx.Exec(
		`UPDATE messageday SET count = MAX(0, count - ?) WHERE date = ?`,
		count, day,
	).Error
	if err != nil {
		return err
	}
	return tx.Exec(`DELETE FROM messageday WHERE date = ? AND count = 0`, day).Error
}

// RebuildDayCounts drops every day bucket and recomputes the counters from a
// full scan of the message table, atomically. This is the repair path after
// operations that bypass incremental maintenance, and runs once at store
// open.
func RebuildDayCounts(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM messageday`).Error; err != nil {
			return err
		}
		return tx.Exec(
			`INSERT INTO messageday (date, count)
			 SELECT DATE(timestamp_s, 'unixepoch') AS date, COUNT(*) AS count
			 FROM message
			 GROUP BY DATE(timestamp_s, 'unixepoch')`,
		).Error
	})
}

// RebuildDays recomputes every day bucket from the message table.
func (s *Service) RebuildDays(ctx context.Context) error {
	if err := RebuildDayCounts(s.db.WithContext(ctx)); err != nil {
		s.logError(opRebuildDays, "rebuild_failed", err)
		return newServiceError(opRebuildDays, "rebuild_failed", err)
	}
	return nil
}

// DayRange returns the day buckets between start and end inclusive, ordered
// by date ascending. Days without archived messages have no bucket and are
// simply absent. A zero end means "up to today".
func (s *Service) DayRange(ctx context.Context, start, end time.Time) ([]MessageDay, error) {
	if end.IsZero() {
		end = s.clock()
	}
	var days []MessageDay
	err := s.db.WithContext(ctx).
		Where("date BETWEEN ? AND ?", DayKey(start), DayKey(end)).
		Order("date ASC").
		Find(&days).Error
	if err != nil {
		s.logError(opDayRange, "query_failed", err)
		return nil, newServiceError(opDayRange, "query_failed", err)
	}
	return days, nil
}

// LastMessageID returns the id of the most recently archived message, used
// to bound incremental backfill windows. The second return is false for an
// empty archive.
func (s *Service) LastMessageID(ctx context.Context) (string, bool, error) {
	var message Message
	err := s.db.WithContext(ctx).
		Order("timestamp_s DESC, message_id DESC").
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opLastMessage, "query_failed", err)
		return "", false, newServiceError(opLastMessage, "query_failed", err)
	}
	return message.MessageID, true, nil
}
