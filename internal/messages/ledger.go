package messages

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateMessage indicates a live insert whose message id is already archived.
var ErrDuplicateMessage = errors.New("messages: message id already archived")

// Save archives one message from live ingestion. The row insert and the day
// bucket increment commit atomically. A duplicate id is a conflict: nothing
// is written and the day bucket is left untouched.
func (s *Service) Save(ctx context.Context, message Message) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Message{}).Where("message_id = ?", message.MessageID).Count(&existing).Error; err != nil {
			return newServiceError(opSave, "lookup_failed", err)
		}
		if existing > 0 {
			return newServiceError(opSave, "duplicate_id", ErrDuplicateMessage)
		}
		if err := tx.Create(&message).Error; err != nil {
			return newServiceError(opSave, "insert_failed", err)
		}
		if err := incrementDay(tx, message.Day(), 1); err != nil {
			return newServiceError(opSave, "day_increment_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrDuplicateMessage) {
			s.logError(opSave, "transaction_failed", txErr, zap.String("message_id", message.MessageID))
		}
		return txErr
	}
	return nil
}

// SaveBatch archives a batch of messages with idempotent semantics: ids
// already archived, or repeated within the batch, are skipped without error,
// and the day buckets only count rows actually inserted. The batch is split
// into atomic chunks; within a chunk the day buckets receive one aggregated
// increment per distinct day. Returns the number of rows inserted.
func (s *Service) SaveBatch(ctx context.Context, batch []Message) (int64, error) {
	var inserted int64
	for start := 0; start < len(batch); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			dayCounts := make(map[string]int64)
			for i := range chunk {
				result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&chunk[i])
				if result.Error != nil {
					return newServiceError(opSaveBatch, "insert_failed", result.Error)
				}
				if result.RowsAffected == 1 {
					dayCounts[chunk[i].Day()]++
					inserted++
				}
			}
			for day, count := range dayCounts {
				if err := incrementDay(tx, day, count); err != nil {
					return newServiceError(opSaveBatch, "day_increment_failed", err)
				}
			}
			return nil
		})
		if txErr != nil {
			s.logError(opSaveBatch, "chunk_failed", txErr, zap.Int("chunk_start", start))
			return inserted, txErr
		}
	}
	return inserted, nil
}

// Update replaces the content and attachment of an archived message after a
// platform-side edit. Author, channel and timestamp are immutable, and the
// day bucket is untouched: an edit does not change the message count.
// Returns false when the id is not archived.
func (s *Service) Update(ctx context.Context, messageID, content, attachmentURL string) (bool, error) {
	values := map[string]interface{}{
		"content":        nullable(content),
		"attachment_url": nullable(attachmentURL),
	}
	result := s.db.WithContext(ctx).Model(&Message{}).Where("message_id = ?", messageID).Updates(values)
	if result.Error != nil {
		s.logError(opUpdate, "update_failed", result.Error, zap.String("message_id", messageID))
		return false, newServiceError(opUpdate, "update_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Delete removes one archived message and decrements its day bucket.
// Returns false when the id is not archived.
func (s *Service) Delete(ctx context.Context, messageID string) (bool, error) {
	removed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message Message
		err := tx.Where("message_id = ?", messageID).Take(&message).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(opDelete, "lookup_failed", err)
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&Message{}).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		if err := decrementDay(tx, message.Day(), 1); err != nil {
			return newServiceError(opDelete, "day_decrement_failed", err)
		}
		removed = true
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr, zap.String("message_id", messageID))
		return false, txErr
	}
	return removed, nil
}

// DeleteBatch removes the given message ids, decrementing day buckets with
// one aggregated update per distinct day. Ids that are not archived are
// skipped. Returns the number of rows removed.
func (s *Service) DeleteBatch(ctx context.Context, messageIDs []string) (int64, error) {
	return s.deleteByIDs(ctx, opDeleteBatch, messageIDs)
}

// PurgeByIDs reconciles against platform-side deletions detected
// out-of-band. Same semantics as DeleteBatch.
func (s *Service) PurgeByIDs(ctx context.Context, messageIDs []string) (int64, error) {
	return s.deleteByIDs(ctx, opPurge, messageIDs)
}

func (s *Service) deleteByIDs(ctx context.Context, operation string, messageIDs []string) (int64, error) {
	var removed int64
	for _, chunk := range chunkIDs(messageIDs, idChunkSize) {
		chunk := chunk
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var dayCounts []MessageDay
			err := tx.Raw(
				`SELECT DATE(timestamp_s, 'unixepoch') AS date, COUNT(*) AS count
				 FROM message WHERE message_id IN ? GROUP BY DATE(timestamp_s, 'unixepoch')`,
				chunk,
			).Scan(&dayCounts).Error
			if err != nil {
				return newServiceError(operation, "day_lookup_failed", err)
			}

			result := tx.Where("message_id IN ?", chunk).Delete(&Message{})
			if result.Error != nil {
				return newServiceError(operation, "delete_failed", result.Error)
			}
			removed += result.RowsAffected

			for _, day := range dayCounts {
				if err := decrementDay(tx, day.Date, day.Count); err != nil {
					return newServiceError(operation, "day_decrement_failed", err)
				}
			}
			return nil
		})
		if txErr != nil {
			s.logError(operation, "chunk_failed", txErr, zap.Int("chunk_size", len(chunk)))
			return removed, txErr
		}
	}
	return removed, nil
}

// DeleteChannelMessages removes every archived message in one channel, used
// when the channel is permanently removed from the platform. Day buckets are
// not adjusted on this path; the caller must follow up with RebuildDays.
func (s *Service) DeleteChannelMessages(ctx context.Context, channelID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&Message{})
	if result.Error != nil {
		s.logError(opDeleteChannel, "delete_failed", result.Error, zap.String("channel_id", channelID))
		return 0, newServiceError(opDeleteChannel, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneChannels removes every archived message whose channel is absent from
// the supplied set of channels still present on the platform. Day buckets
// are not adjusted; the caller must follow up with RebuildDays.
func (s *Service) PruneChannels(ctx context.Context, activeChannelIDs []string) (int64, error) {
	active := make(map[string]struct{}, len(activeChannelIDs))
	for _, id := range activeChannelIDs {
		active[id] = struct{}{}
	}

	var archived []string
	if err := s.db.WithContext(ctx).Model(&Message{}).Distinct("channel_id").Pluck("channel_id", &archived).Error; err != nil {
		s.logError(opDeleteChannel, "channel_scan_failed", err)
		return 0, newServiceError(opDeleteChannel, "channel_scan_failed", err)
	}

	var stale []string
	for _, id := range archived {
		if _, ok := active[id]; !ok {
			stale = append(stale, id)
		}
	}

	var removed int64
	for _, chunk := range chunkIDs(stale, idChunkSize) {
		result := s.db.WithContext(ctx).Where("channel_id IN ?", chunk).Delete(&Message{})
		if result.Error != nil {
			s.logError(opDeleteChannel, "prune_failed", result.Error, zap.Int("chunk_size", len(chunk)))
			return removed, newServiceError(opDeleteChannel, "prune_failed", result.Error)
		}
		removed += result.RowsAffected
	}
	return removed, nil
}

func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
