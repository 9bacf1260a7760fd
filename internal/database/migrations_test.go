package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) (*gorm.DB, string) {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "boxes.db")
	database, err := Open(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	return database, databasePath
}

func newTestInitializer(testContext *testing.T, database *gorm.DB, path string, now time.Time, logger *zap.Logger) *Initializer {
	testContext.Helper()
	initializer, err := NewInitializer(InitializerConfig{
		Database: database,
		Path:     path,
		Clock:    func() time.Time { return now },
		Logger:   logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct initializer: %v", err)
	}
	return initializer
}

func countRows(testContext *testing.T, database *gorm.DB, model any) int64 {
	testContext.Helper()
	var count int64
	if err := database.Model(model).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count rows: %v", err)
	}
	return count
}

func TestRunCreatesAndSeedsFreshDatabase(testContext *testing.T) {
	database, path := openTestDatabase(testContext)
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	initializer := newTestInitializer(testContext, database, path, now, zap.NewNop())

	if initializer.Ready() {
		testContext.Fatalf("expected initializer to start not ready")
	}
	if err := initializer.Run(context.Background()); err != nil {
		testContext.Fatalf("failed to initialize: %v", err)
	}
	if !initializer.Ready() {
		testContext.Fatalf("expected initializer to be ready")
	}

	if count := countRows(testContext, database, &boxes.Box{}); count != boxes.BoxCount {
		testContext.Fatalf("expected %d boxes, got %d", boxes.BoxCount, count)
	}
	if count := countRows(testContext, database, &assets.Asset{}); count != 11 {
		testContext.Fatalf("expected 11 assets, got %d", count)
	}

	var box boxes.Box
	if err := database.Take(&box, 7).Error; err != nil {
		testContext.Fatalf("failed to load box: %v", err)
	}
	if box.Condition2 != "Post 7 Condition 2" || box.Condition4 != boxes.NoneOfTheAbove {
		testContext.Fatalf("unexpected seeded box: %+v", box)
	}

	var version schemaVersion
	if err := database.Take(&version).Error; err != nil {
		testContext.Fatalf("failed to load schema version: %v", err)
	}
	if version.Version != SchemaVersion {
		testContext.Fatalf("expected schema version %d, got %d", SchemaVersion, version.Version)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBlankSlot).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds != now.Unix() {
		testContext.Fatalf("unexpected migration timestamp %d", record.AppliedAtSeconds)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*_backup_*.db"))
	if len(matches) != 0 {
		testContext.Fatalf("fresh database must not be backed up, found %v", matches)
	}
}

func TestRunIsIdempotentForCurrentSchema(testContext *testing.T) {
	database, path := openTestDatabase(testContext)
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	if err := newTestInitializer(testContext, database, path, now, zap.NewNop()).Run(context.Background()); err != nil {
		testContext.Fatalf("failed first initialization: %v", err)
	}
	if err := database.Model(&boxes.Box{}).Where("id = ?", 3).Update("condition1", "Kept").Error; err != nil {
		testContext.Fatalf("failed to edit box: %v", err)
	}

	if err := newTestInitializer(testContext, database, path, now.Add(time.Hour), zap.NewNop()).Run(context.Background()); err != nil {
		testContext.Fatalf("failed second initialization: %v", err)
	}

	var box boxes.Box
	if err := database.Take(&box, 3).Error; err != nil {
		testContext.Fatalf("failed to load box: %v", err)
	}
	if box.Condition1 != "Kept" {
		testContext.Fatalf("expected data to survive restart, got %q", box.Condition1)
	}
	if count := countRows(testContext, database, &schemaVersion{}); count != 1 {
		testContext.Fatalf("expected one version row, got %d", count)
	}
}

func TestRunRebuildsLegacySchemaWithBackup(testContext *testing.T) {
	database, path := openTestDatabase(testContext)
	statements := []string{
		"CREATE TABLE boxes (id INTEGER PRIMARY KEY, condition1 TEXT)",
		"INSERT INTO boxes (id, condition1) VALUES (1, 'legacy')",
		"CREATE TABLE discord_guilds (guild_id TEXT PRIMARY KEY)",
	}
	for _, statement := range statements {
		if err := database.Exec(statement).Error; err != nil {
			testContext.Fatalf("failed to prepare legacy schema: %v", err)
		}
	}

	core, logs := observer.New(zap.InfoLevel)
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	initializer := newTestInitializer(testContext, database, path, now, zap.New(core))
	if err := initializer.Run(context.Background()); err != nil {
		testContext.Fatalf("failed to rebuild: %v", err)
	}

	backupPath := BackupPath(path, now)
	if _, err := os.Stat(backupPath); err != nil {
		testContext.Fatalf("expected backup at %s: %v", backupPath, err)
	}
	if filepath.Base(backupPath) != "boxes_backup_1737367200000.db" {
		testContext.Fatalf("unexpected backup name %s", filepath.Base(backupPath))
	}

	if database.Migrator().HasTable(legacyGuildsTable) {
		testContext.Fatalf("expected legacy guild table to be dropped")
	}
	if count := countRows(testContext, database, &boxes.Box{}); count != boxes.BoxCount {
		testContext.Fatalf("expected %d boxes after rebuild, got %d", boxes.BoxCount, count)
	}
	var box boxes.Box
	if err := database.Take(&box, 1).Error; err != nil {
		testContext.Fatalf("failed to load box: %v", err)
	}
	if box.Condition1 != "Post 1 Condition 1" {
		testContext.Fatalf("expected reseeded box, got %q", box.Condition1)
	}
	if logs.FilterMessage("database backed up").Len() != 1 {
		testContext.Fatalf("expected backup log entry")
	}
}

func TestRunRebuildsOutdatedVersion(testContext *testing.T) {
	database, path := openTestDatabase(testContext)
	if err := database.AutoMigrate(&schemaVersion{}, &boxes.Box{}); err != nil {
		testContext.Fatalf("failed to prepare schema: %v", err)
	}
	if err := database.Create(&schemaVersion{Version: 2}).Error; err != nil {
		testContext.Fatalf("failed to insert version: %v", err)
	}

	now := time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)
	if err := newTestInitializer(testContext, database, path, now, zap.NewNop()).Run(context.Background()); err != nil {
		testContext.Fatalf("failed to rebuild: %v", err)
	}

	var latest schemaVersion
	if err := database.Order("version DESC").Take(&latest).Error; err != nil {
		testContext.Fatalf("failed to read version: %v", err)
	}
	if latest.Version != SchemaVersion {
		testContext.Fatalf("expected version %d, got %d", SchemaVersion, latest.Version)
	}
	if _, err := os.Stat(BackupPath(path, now)); err != nil {
		testContext.Fatalf("expected backup file: %v", err)
	}
}

func TestApplyMigrationsRestoresConditionFour(testContext *testing.T) {
	database, _ := openTestDatabase(testContext)
	if err := database.AutoMigrate(&boxes.Box{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := database.Create(&boxes.Box{ID: 1, Condition1: "a", Condition2: "b", Condition3: "c", Condition4: "x"}).Error; err != nil {
		testContext.Fatalf("failed to insert box: %v", err)
	}
	if err := database.Exec("UPDATE boxes SET condition4 = '  ' WHERE id = 1").Error; err != nil {
		testContext.Fatalf("failed to blank condition: %v", err)
	}

	if err := applyMigrations(database, time.Now, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored boxes.Box
	if err := database.Take(&stored, 1).Error; err != nil {
		testContext.Fatalf("failed to reload box: %v", err)
	}
	if stored.Condition4 != boxes.NoneOfTheAbove {
		testContext.Fatalf("expected sentinel restored, got %q", stored.Condition4)
	}
}

func TestOpenRequiresPath(testContext *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		testContext.Fatalf("expected error for blank path")
	}
	if !isMemoryPath(":memory:") || !isMemoryPath("file:boxes?mode=memory&cache=shared") {
		testContext.Fatalf("expected memory paths to be detected")
	}
}
