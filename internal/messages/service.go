package messages

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// idChunkSize bounds the number of bound parameters per statement in bulk
// id-list operations. SQLite rejects statements beyond its parameter limit.
const idChunkSize = 500

// batchChunkSize bounds the number of rows written per bulk-insert
// transaction chunk. Each chunk is atomic; chunk boundaries are a
// performance detail only.
const batchChunkSize = 500

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingHasher   = errors.New("pseudonym hasher is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "messages.service.new"
	opSave          = "messages.save"
	opSaveBatch     = "messages.save_batch"
	opUpdate        = "messages.update"
	opDelete        = "messages.delete"
	opDeleteBatch   = "messages.delete_batch"
	opDeleteChannel = "messages.delete_channel"
	opPurge         = "messages.purge"
	opRebuildDays   = "messages.rebuild_days"
	opDayRange      = "messages.day_range"
	opLastMessage   = "messages.last_message"
	opTrend         = "messages.trend"
	opRank          = "messages.rank"
	opRandom        = "messages.random"
	opChannelStats  = "messages.channel_stats"
	opExport        = "messages.export"
	opDeleteForUser = "messages.delete_for_author"
	opOptimize      = "messages.optimize"
	opRebuildIndex  = "messages.rebuild_index"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the archive service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   *pseudonym.Hasher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns every ledger mutation, day-bucket maintenance path and
// analytical query against one guild store. Every mutation that touches more
// than one table runs inside a single transaction; the synchronous index
// triggers installed at store open keep the full-text shadow consistent
// within that same transaction.
type Service struct {
	db     *gorm.DB
	hasher *pseudonym.Hasher
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the archive service for one guild store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opServiceNew, "missing_hasher", errMissingHasher)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		hasher: cfg.Hasher,
		clock:  clock,
		logger: logger,
	}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("messages service error", attrs...)
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = idChunkSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
