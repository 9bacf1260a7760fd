package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchemaVersion is the schema generation this build creates. Older databases are rebuilt.
const SchemaVersion = 3

const (
	legacyBoxesTable   = "boxes"
	legacyGuildsTable  = "discord_guilds"
	migrationBlankSlot = "2025-01-20_restore_condition4_sentinel"
)

// ErrNotReady is reported while the schema is still being prepared.
var ErrNotReady = errors.New("database: not ready")

type schemaVersion struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Version   int       `gorm:"column:version;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (schemaVersion) TableName() string {
	return "schema_version"
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func models() []any {
	return []any{
		&schemaVersion{},
		&migrationRecord{},
		&users.User{},
		&users.Session{},
		&boxes.Box{},
		&boxes.Holder{},
		&boxes.Application{},
		&assets.Asset{},
		&discord.Token{},
		&discord.CommandLog{},
	}
}

// InitializerConfig describes the dependencies of the schema initializer.
type InitializerConfig struct {
	Database *gorm.DB
	Path     string
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Initializer brings the database to SchemaVersion, rebuilding older layouts.
type Initializer struct {
	db     *gorm.DB
	path   string
	clock  func() time.Time
	logger *zap.Logger
	ready  atomic.Bool
}

// NewInitializer validates configuration and constructs an Initializer.
func NewInitializer(cfg InitializerConfig) (*Initializer, error) {
	if cfg.Database == nil {
		return nil, errors.New("database: connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initializer{db: cfg.Database, path: cfg.Path, clock: clock, logger: logger}, nil
}

// Ready reports whether Run has completed successfully.
func (i *Initializer) Ready() bool {
	return i.ready.Load()
}

// Run inspects the stored schema version and creates, rebuilds, or upgrades in place.
func (i *Initializer) Run(ctx context.Context) error {
	db := i.db.WithContext(ctx)
	migrator := db.Migrator()

	rebuild := false
	fresh := false
	switch {
	case !migrator.HasTable(&schemaVersion{}):
		if migrator.HasTable(legacyBoxesTable) {
			i.logger.Info("legacy schema detected without version table")
			rebuild = true
		} else {
			fresh = true
		}
	default:
		var latest schemaVersion
		err := db.Order("version DESC").Take(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rebuild = true
		case err != nil:
			return fmt.Errorf("database: read schema version: %w", err)
		case latest.Version < SchemaVersion:
			i.logger.Info("schema version outdated",
				zap.Int("stored_version", latest.Version),
				zap.Int("target_version", SchemaVersion))
			rebuild = true
		}
	}

	if rebuild {
		i.backup(ctx)
		if err := i.dropAll(ctx); err != nil {
			return err
		}
		fresh = true
	}

	if fresh {
		if err := i.create(ctx); err != nil {
			return err
		}
	} else if err := db.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}

	if err := applyMigrations(db, i.clock, i.logger); err != nil {
		return err
	}

	i.ready.Store(true)
	i.logger.Info("database initialized",
		zap.Int("schema_version", SchemaVersion),
		zap.Bool("rebuilt", rebuild))
	return nil
}

// BackupPath returns the file a rebuild copies the database to.
func BackupPath(path string, at time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%d.db", name, at.UnixMilli()))
}

func (i *Initializer) backup(ctx context.Context) {
	if i.path == "" || isMemoryPath(i.path) {
		return
	}
	target := BackupPath(i.path, i.clock())
	if err := i.db.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		i.logger.Error("database backup failed", zap.String("backup_path", target), zap.Error(err))
		return
	}
	i.logger.Info("database backed up", zap.String("backup_path", target))
}

func (i *Initializer) dropAll(ctx context.Context) error {
	migrator := i.db.WithContext(ctx).Migrator()
	tables := append(models(), legacyGuildsTable)
	for _, table := range tables {
		if !migrator.HasTable(table) {
			continue
		}
		if err := migrator.DropTable(table); err != nil {
			return fmt.Errorf("database: drop table: %w", err)
		}
	}
	return nil
}

func (i *Initializer) create(ctx context.Context) error {
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(models()...); err != nil {
			return fmt.Errorf("database: create tables: %w", err)
		}
		if err := tx.Create(&schemaVersion{Version: SchemaVersion, CreatedAt: i.clock().UTC()}).Error; err != nil {
			return fmt.Errorf("database: record schema version: %w", err)
		}
		seededBoxes := boxes.SeedBoxes()
		if err := tx.Create(&seededBoxes).Error; err != nil {
			return fmt.Errorf("database: seed boxes: %w", err)
		}
		catalog := assets.Catalog()
		now := i.clock().UTC()
		for index := range catalog {
			catalog[index].CreatedAt = now
			catalog[index].UpdatedAt = now
		}
		if err := tx.Create(&catalog).Error; err != nil {
			return fmt.Errorf("database: seed assets: %w", err)
		}
		i.logger.Info("database seeded",
			zap.Int("boxes", len(seededBoxes)),
			zap.Int("assets", len(catalog)))
		return nil
	})
}

func applyMigrations(db *gorm.DB, clock func() time.Time, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBlankSlot, apply: restoreConditionFourSentinel},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := clock().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func restoreConditionFourSentinel(db *gorm.DB) error {
	return db.Model(&boxes.Box{}).
		Where("condition4 IS NULL OR trim(condition4) = ''").
		Update("condition4", boxes.NoneOfTheAbove).Error
}
