package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidRealID indicates an empty real author id.
	ErrInvalidRealID   = errors.New("identity: invalid real author id")
	errMissingDatabase = errors.New("database handle is required")
	errMissingHasher   = errors.New("pseudonym hasher is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies of the opt-in identity service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   *pseudonym.Hasher
	Logger   *zap.Logger
}

// Service manages the opt-in mapping from pseudonymous author ids back to
// real platform ids within one guild store.
type Service struct {
	db     *gorm.DB
	hasher *pseudonym.Hasher
	logger *zap.Logger
}

// NewService constructs the identity service for one guild store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: %w", errMissingDatabase)
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("identity: %w", errMissingHasher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, hasher: cfg.Hasher, logger: logger}, nil
}

// Register records the user's opt-in: rank and export output may from now on
// show their real id. Re-registering replaces the existing row.
func (s *Service) Register(ctx context.Context, realAuthorID string) error {
	if strings.TrimSpace(realAuthorID) == "" {
		return ErrInvalidRealID
	}
	mapping := Mapping{
		AuthorID:     s.hasher.Hash(realAuthorID),
		RealAuthorID: realAuthorID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&mapping).Error
	if err != nil {
		s.logger.Error("identity register failed", zap.Error(err))
		return fmt.Errorf("identity: register: %w", err)
	}
	return nil
}

// Unregister withdraws the opt-in. Removing an id that was never registered
// is a no-op.
func (s *Service) Unregister(ctx context.Context, realAuthorID string) error {
	if strings.TrimSpace(realAuthorID) == "" {
		return ErrInvalidRealID
	}
	hashed := s.hasher.Hash(realAuthorID)
	err := s.db.WithContext(ctx).Where("author_id = ?", hashed).Delete(&Mapping{}).Error
	if err != nil {
		s.logger.Error("identity unregister failed", zap.Error(err))
		return fmt.Errorf("identity: unregister: %w", err)
	}
	return nil
}

// Resolve returns the author reference for a pseudonymous id: the real id
// when the user has opted in, the pseudonym otherwise.
func (s *Service) Resolve(ctx context.Context, pseudonymousID string) (pseudonym.AuthorRef, error) {
	var mapping Mapping
	err := s.db.WithContext(ctx).Where("author_id = ?", pseudonymousID).Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pseudonym.Pseudonymous(pseudonymousID), nil
	}
	if err != nil {
		s.logger.Error("identity resolve failed", zap.Error(err))
		return pseudonym.AuthorRef{}, fmt.Errorf("identity: resolve: %w", err)
	}
	return pseudonym.Real(mapping.RealAuthorID), nil
}
