package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/hive/internal/identity"
	"github.com/MarcoPoloResearchLab/hive/internal/messages"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidGuildID indicates a guild identifier that is empty or not a decimal string.
	ErrInvalidGuildID = errors.New("store: invalid guild id")
	errMissingDir     = errors.New("store: database directory is required")
)

const maxGuildIDLength = 32

// Store is the handle for one guild's isolated database. All entities inside
// it belong to that guild alone; nothing ever crosses between stores.
type Store struct {
	GuildID string
	DB      *gorm.DB
}

// ManagerConfig describes the dependencies of the store registry.
type ManagerConfig struct {
	Directory string
	Logger    *zap.Logger
}

// Manager is the registry of open guild stores. Stores are created lazily on
// first access and kept open for the process lifetime; Close exists for
// tests and administrative teardown.
type Manager struct {
	directory string
	logger    *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager validates the configuration and ensures the database directory
// exists.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errMissingDir
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		directory: cfg.Directory,
		logger:    logger,
		stores:    make(map[string]*Store),
	}, nil
}

// Get returns the store for a guild, opening and initializing it on first
// access: schema and index triggers are created idempotently and the day
// buckets are rebuilt once so pre-existing message data and counters agree.
// Open failures are fatal for the calling operation and are not retried.
func (m *Manager) Get(guildID string) (*Store, error) {
	if err := validateGuildID(guildID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[guildID]; ok {
		return store, nil
	}

	path := filepath.Join(m.directory, guildID+".db")
	db, err := m.open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open guild %s: %w", guildID, err)
	}

	store := &Store{GuildID: guildID, DB: db}
	m.stores[guildID] = store
	m.logger.Info("guild store opened", zap.String("guild_id", guildID), zap.String("path", path))
	return store, nil
}

func (m *Manager) open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection per guild store: SQLite serializes writers anyway, and a
	// single connection guarantees every multi-table write observes its own
	// transaction exclusively.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&messages.Message{}, &messages.MessageDay{}, &identity.Mapping{}); err != nil {
		return nil, err
	}
	for _, statement := range schemaStatements {
		if err := db.Exec(statement).Error; err != nil {
			return nil, err
		}
	}

	if err := messages.RebuildDayCounts(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Close disposes one guild's store handle, if open.
func (m *Manager) Close(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(guildID)
}

// CloseAll disposes every open store handle. Used by tests and shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for guildID := range m.stores {
		if err := m.closeLocked(guildID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) closeLocked(guildID string) error {
	store, ok := m.stores[guildID]
	if !ok {
		return nil
	}
	delete(m.stores, guildID)

	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GuildIDs lists every guild with an existing database file in the managed
// directory, whether or not its store is currently open.
func (m *Manager) GuildIDs() ([]string, error) {
	entries, err := os.ReadDir(m.directory)
	if err != nil {
		return nil, fmt.Errorf("store: scan directory: %w", err)
	}

	var guildIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".db") {
			continue
		}
		guildID := strings.TrimSuffix(name, ".db")
		if validateGuildID(guildID) == nil {
			guildIDs = append(guildIDs, guildID)
		}
	}
	return guildIDs, nil
}

func validateGuildID(raw string) error {
	if raw == "" || len(raw) > maxGuildIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidGuildID, raw)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidGuildID, raw)
		}
	}
	return nil
}
