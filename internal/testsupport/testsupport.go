package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"popkit/internal"
	"popkit/internal/config"
	"popkit/internal/events"
	"popkit/internal/popups"
	"popkit/internal/shops"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with popkit's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all popkit models for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&shops.Shop{},
		&popups.Popup{},
		&events.AnalyticsEvent{},
	}
}

// SetupTestDB creates a test database with all popkit models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	// cache=shared allows multiple connections to the same database
	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set POPKIT_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	logger := GetLogger()
	dbManager := NewTestDBManager(db)

	return dbManager, logger
}

// SetupTestDBManagerWithShop creates a test database manager with a test shop
func SetupTestDBManagerWithShop(t *testing.T, domain string) (*TestDBManager, *slog.Logger, shops.Shop) {
	dbManager, logger := SetupTestDBManager(t)
	shop := CreateTestShop(dbManager.GetConnection(), domain)
	return dbManager, logger, shop
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}

	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestShop creates a test shop in the database
func CreateTestShop(db *gorm.DB, domain string) shops.Shop {
	var shop shops.Shop
	if db.Where("domain = ?", domain).First(&shop).Error != nil {
		shop = shops.Shop{Domain: domain, Name: domain, CreatedAt: time.Now().UTC()}
		db.Create(&shop)
	}
	return shop
}

// CreateTestPopup creates an active email capture popup for a shop
func CreateTestPopup(t *testing.T, db *gorm.DB, shopID uint) popups.Popup {
	t.Helper()

	popup := popups.Popup{
		ShopID:  shopID,
		Name:    "Test Email Capture",
		Variant: popups.VariantEmailCapture,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			DisplayDelayMs: 1000,
			Frequency:      popups.FrequencyAlways,
		},
		Settings: popups.Settings{
			Email: &popups.EmailSettings{
				Headline:    "Get 10% off",
				SubmitLabel: "Subscribe",
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, popup.Validate())
	require.NoError(t, db.Create(&popup).Error)
	return popup
}

// CreateTestWheelPopup creates an active prize wheel popup for a shop
func CreateTestWheelPopup(t *testing.T, db *gorm.DB, shopID uint, segments []popups.Segment) popups.Popup {
	t.Helper()

	popup := popups.Popup{
		ShopID:  shopID,
		Name:    "Test Wheel",
		Variant: popups.VariantWheelCombo,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			DisplayDelayMs: 1000,
			Frequency:      popups.FrequencyAlways,
		},
		Settings: popups.Settings{
			Wheel: &popups.WheelSettings{
				Segments: segments,
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, popup.Validate())
	require.NoError(t, db.Create(&popup).Error)
	return popup
}

// SeedEvent writes one analytics event straight into the database
func SeedEvent(t *testing.T, db *gorm.DB, shopID, popupID uint, eventType events.EventType, sessionID string, timestamp time.Time) events.AnalyticsEvent {
	t.Helper()

	event := events.AnalyticsEvent{
		ShopID:    shopID,
		PopupID:   popupID,
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: timestamp,
		CreatedAt: time.Now().UTC(),
	}
	if eventType == events.EventTypeEmailEntered {
		event.Email = sessionID + "@example.com"
	}
	if eventType == events.EventTypeWin {
		event.PrizeLabel = "10% OFF"
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
