package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/hive/internal/messages"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.CloseAll(); err != nil {
			t.Errorf("store shutdown failed: %v", err)
		}
	})
	return manager
}

func TestNewManagerRequiresDirectory(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Fatalf("expected missing directory error")
	}
}

func TestGetReusesOpenHandle(t *testing.T) {
	manager := newTestManager(t)

	first, err := manager.Get("123456")
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	second, err := manager.Get("123456")
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same handle for repeated access")
	}
}

func TestGetIsolatesGuilds(t *testing.T) {
	manager := newTestManager(t)

	first, err := manager.Get("111")
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	second, err := manager.Get("222")
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	if err := first.DB.Create(&messages.Message{MessageID: "1", AuthorID: "a", ChannelID: "9", TimestampSeconds: 1700000000}).Error; err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var countInSecond int64
	if err := second.DB.Model(&messages.Message{}).Count(&countInSecond).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if countInSecond != 0 {
		t.Fatalf("guild data leaked across stores: %d rows", countInSecond)
	}
}

func TestGetRejectsInvalidGuildID(t *testing.T) {
	manager := newTestManager(t)

	for _, guildID := range []string{"", "abc", "12 34", "../escape", "111111111111111111111111111111111"} {
		if _, err := manager.Get(guildID); !errors.Is(err, ErrInvalidGuildID) {
			t.Fatalf("expected invalid guild id error for %q, got %v", guildID, err)
		}
	}
}

func TestOpenRebuildsDayBucketsFromExistingData(t *testing.T) {
	manager := newTestManager(t)

	guildStore, err := manager.Get("123456")
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	// Rows written without day bucket maintenance, as if left behind by an
	// older process that crashed mid-backfill.
	rows := []messages.Message{
		{MessageID: "1", AuthorID: "a", ChannelID: "9", TimestampSeconds: 1709290000}, // 2024-03-01
		{MessageID: "2", AuthorID: "a", ChannelID: "9", TimestampSeconds: 1709290060}, // 2024-03-01
		{MessageID: "3", AuthorID: "a", ChannelID: "9", TimestampSeconds: 1709376400}, // 2024-03-02
	}
	for i := range rows {
		if err := guildStore.DB.Create(&rows[i]).Error; err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	if err := manager.Close("123456"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := manager.Get("123456")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	var days []messages.MessageDay
	if err := reopened.DB.Order("date ASC").Find(&days).Error; err != nil {
		t.Fatalf("day scan failed: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 day buckets, got %#v", days)
	}
	if days[0].Date != "2024-03-01" || days[0].Count != 2 {
		t.Fatalf("unexpected first bucket: %#v", days[0])
	}
	if days[1].Date != "2024-03-02" || days[1].Count != 1 {
		t.Fatalf("unexpected second bucket: %#v", days[1])
	}
}

func TestGuildIDsScansDatabaseDirectory(t *testing.T) {
	directory := t.TempDir()
	manager, err := NewManager(ManagerConfig{Directory: directory})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	t.Cleanup(func() { _ = manager.CloseAll() })

	for _, guildID := range []string{"111", "222"} {
		if _, err := manager.Get(guildID); err != nil {
			t.Fatalf("unexpected store error: %v", err)
		}
	}
	// Files that are not guild databases are ignored.
	if err := os.WriteFile(filepath.Join(directory, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(directory, "backup.db"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	guildIDs, err := manager.GuildIDs()
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(guildIDs) != 2 {
		t.Fatalf("expected 2 guilds, got %v", guildIDs)
	}
	found := map[string]bool{}
	for _, guildID := range guildIDs {
		found[guildID] = true
	}
	if !found["111"] || !found["222"] {
		t.Fatalf("missing guilds in %v", guildIDs)
	}
}

func TestCloseThenReopen(t *testing.T) {
	manager := newTestManager(t)

	if _, err := manager.Get("123456"); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if err := manager.Close("123456"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Closing an unopened guild is a no-op.
	if err := manager.Close("999999"); err != nil {
		t.Fatalf("unexpected error closing unopened store: %v", err)
	}
	if _, err := manager.Get("123456"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
}
